package extraction_engine

import (
	"context"
	"errors"
	"sync"

	"github.com/markdave123-py/Structa/internal/core/partitioner"
	"github.com/markdave123-py/Structa/internal/models"
)

type fakePartitioner struct {
	mu       sync.Mutex
	calls    int
	requests []*partitioner.Request
	fn       func(ctx context.Context, call int, req *partitioner.Request) ([]models.Element, error)
}

func (f *fakePartitioner) Partition(ctx context.Context, req *partitioner.Request) ([]models.Element, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	return f.fn(ctx, call, req)
}

func (f *fakePartitioner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRunStore struct {
	mu       sync.Mutex
	created  []models.RunRecord
	finished map[string]models.RunRecord
	err      error
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{finished: map[string]models.RunRecord{}}
}

func (s *fakeRunStore) CreateRun(_ context.Context, run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, *run)
	return s.err
}

func (s *fakeRunStore) FinishRun(_ context.Context, run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[run.ID] = *run
	return s.err
}

func (s *fakeRunStore) GetRun(_ context.Context, id string) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.finished[id]; ok {
		return &r, nil
	}
	return nil, errors.New("not found")
}

func (s *fakeRunStore) ListRunsByDocument(_ context.Context, document string) ([]models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RunRecord
	for _, r := range s.finished {
		if r.Document == document {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRunStore) Close() error { return nil }

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (o *fakeObjects) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	if o.err != nil {
		return "", o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[bucket+"/"+key] = data
	return "https://" + bucket + ".s3.us-east-1.amazonaws.com/" + key, nil
}

func (o *fakeObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}
