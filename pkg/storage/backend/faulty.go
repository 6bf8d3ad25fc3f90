// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"io"
	"iter"
	"sync"

	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

// Faulty wraps a backend and fails selected operations on demand. It lets callers
// exercise their storage-failure paths.
type Faulty struct {
	types.Backend

	mu        sync.Mutex
	saveErr   error
	saveHold  *hold
	getErr    error
	listErr   error
	removeErr map[string]error // file id -> error; "" matches every file
}

func NewFaulty(inner types.Backend) *Faulty {
	return &Faulty{Backend: inner, removeErr: make(map[string]error)}
}

// FailSave makes every SaveFile return err. nil heals.
func (f *Faulty) FailSave(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

type hold struct {
	entered chan struct{}
	release chan struct{}
}

// HoldSave parks the next SaveFile call after its bytes are stored, until release
// is called. entered is closed once the bytes are down.
func (f *Faulty) HoldSave() (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.saveHold = h
	f.mu.Unlock()
	var once sync.Once
	return h.entered, func() { once.Do(func() { close(h.release) }) }
}

// FailGet makes every GetBinaryContent return err. nil heals.
func (f *Faulty) FailGet(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr = err
}

// FailList makes ListFiles yield err after the inner listing.
func (f *Faulty) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// FailRemove makes RemoveFile return err for fileIDs, or for every file when none
// are given. A nil err heals the given ids.
func (f *Faulty) FailRemove(err error, fileIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(fileIDs) == 0 {
		fileIDs = []string{""}
	}
	for _, id := range fileIDs {
		if err == nil {
			delete(f.removeErr, id)
			continue
		}
		f.removeErr[id] = err
	}
}

func (f *Faulty) SaveFile(ctx context.Context, bucketID, fileID string, data []byte) error {
	f.mu.Lock()
	err, h := f.saveErr, f.saveHold
	f.saveHold = nil
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if err := f.Backend.SaveFile(ctx, bucketID, fileID, data); err != nil || h == nil {
		return err
	}
	close(h.entered)
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Faulty) GetBinaryContent(ctx context.Context, bucketID, fileID string) (io.ReadCloser, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Backend.GetBinaryContent(ctx, bucketID, fileID)
}

func (f *Faulty) RemoveFile(ctx context.Context, bucketID, fileID string) error {
	f.mu.Lock()
	err, ok := f.removeErr[fileID]
	if !ok {
		err = f.removeErr[""]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Backend.RemoveFile(ctx, bucketID, fileID)
}

func (f *Faulty) ListFiles(ctx context.Context, bucketID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for id, err := range f.Backend.ListFiles(ctx, bucketID) {
			if !yield(id, err) {
				return
			}
		}
		f.mu.Lock()
		err := f.listErr
		f.mu.Unlock()
		if err != nil {
			yield("", err)
		}
	}
}
