package mongostore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"medtrack/internal/storage"
	"medtrack/internal/storage/storagetest"
)

func TestMongoContract(t *testing.T) {
	uri := os.Getenv("MEDTRACK_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MEDTRACK_TEST_MONGO_URI not set")
	}

	storagetest.Run(t, func(t *testing.T) storage.Store {
		ctx := context.Background()
		s, err := Open(ctx, uri, "medtrack_test_"+uuid.NewString()[:8])
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.Database().Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}

func TestOpenRequiresSettings(t *testing.T) {
	_, err := Open(context.Background(), "", "medtrack")
	require.Error(t, err)
	_, err = Open(context.Background(), "mongodb://localhost:27017", "")
	require.Error(t, err)
}
