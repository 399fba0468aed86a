package mimepart

import (
	"errors"
	"fmt"
	"io"
)

// StreamHookFunc receives the content of a hooked part. parsed holds every
// part returned so far, nested ones included, in the order they completed.
type StreamHookFunc = func(r io.Reader, header Header, parsed Parts) error

type streamHook struct {
	fn           StreamHookFunc
	requireParts []string
}

// Register streams the parts named name into fn instead of returning them.
// fn may return before reading everything; the rest of the part is discarded.
// Register must not be called while a Parse is running.
func (p *Parser) Register(name string, fn StreamHookFunc, options ...RegisterOption) error {
	if _, ok := p.hookMap[name]; ok {
		return DuplicateHookNameError{Name: name}
	}

	c := &registerConfig{}
	for _, opt := range options {
		opt(c)
	}

	p.hookMap[name] = streamHook{
		fn:           fn,
		requireParts: c.requireParts,
	}

	return nil
}

type DuplicateHookNameError struct {
	Name string
}

func (e DuplicateHookNameError) Error() string {
	return fmt.Sprintf("duplicate hook name: %s", e.Name)
}

type registerConfig struct {
	requireParts []string
}

type RegisterOption func(*registerConfig)

// WithRequiredPart delays the hook until the part named name has been parsed.
// Parts arriving earlier are kept in memory or storage and replayed.
func WithRequiredPart(name string) RegisterOption {
	return func(c *registerConfig) {
		c.requireParts = append(c.requireParts, name)
	}
}

type streamParam struct {
	pr   *partReader
	info partInfo
}

func (st *parseState) runHook(pr *partReader, info partInfo) error {
	_, err := st.gate.Deliver(info.name, &streamParam{
		pr:   pr,
		info: info,
	})
	if err != nil {
		if pr.truncated || pr.srcErr != nil || pr.err != nil {
			return st.bodyError(pr, pr.err, info.kind == partFile)
		}
		return fmt.Errorf("failed to run or set hook: %w", err)
	}

	// the hook may stop reading early
	if err := pr.drain(); err != nil {
		return st.bodyError(pr, err, info.kind == partFile)
	}

	return nil
}

func (st *parseState) spool(sp *streamParam) (*File, error) {
	return st.readFile(sp.pr, sp.info)
}

// release gives back what a spooled part held.
func (st *parseState) release(f *File) error {
	if f.InMemory() {
		st.maxMemSize += DataSize(f.size)
	}

	return f.Remove()
}

type gateHook struct {
	st   *parseState
	hook streamHook
}

func (h gateHook) Direct(sp *streamParam) error {
	return h.hook.fn(sp.pr, sp.info.header, h.st.seen)
}

func (h gateHook) Deferred(f *File) (err error) {
	defer func() {
		if releaseErr := h.st.release(f); releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
	}()

	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	return h.hook.fn(r, f.header, h.st.seen)
}

func (h gateHook) Requires() []string {
	return h.hook.requireParts
}
