package handlers

import (
	"context"
	"io"

	"github.com/google/uuid"
)

type mockStorage struct {
	UploadProfilePhotoFn func(braceletID uuid.UUID, filename, contentType string) (string, error)
	DeleteFileFn         func(objectPath string) error
	DeleteFileCalls      []string
	UploadCallCount      int
	UploadedBytes        []byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		DeleteFileCalls: []string{},
	}
}

func (m *mockStorage) UploadProfilePhoto(ctx context.Context, braceletID uuid.UUID, file io.Reader, filename, contentType string) (string, error) {
	m.UploadCallCount++
	m.UploadedBytes, _ = io.ReadAll(file)
	if m.UploadProfilePhotoFn != nil {
		return m.UploadProfilePhotoFn(braceletID, filename, contentType)
	}
	return "https://storage.googleapis.com/test-bucket/profiles/" + braceletID.String() + "/1_" + filename, nil
}

func (m *mockStorage) DeleteFile(ctx context.Context, objectPath string) error {
	m.DeleteFileCalls = append(m.DeleteFileCalls, objectPath)
	if m.DeleteFileFn != nil {
		return m.DeleteFileFn(objectPath)
	}
	return nil
}
