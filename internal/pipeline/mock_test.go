package pipeline

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/internal/oracle"
)

// mockOracle implements oracle.Oracle for testing.
type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Complete(ctx context.Context, system, user string) (*oracle.Completion, error) {
	args := m.Called(ctx, system, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.Completion), args.Error(1)
}

func (m *mockOracle) CheckCredentials() error {
	args := m.Called()
	return args.Error(0)
}

func makeEmails(n int) []model.EmailRecord {
	out := make([]model.EmailRecord, n)
	for i := range out {
		out[i] = model.EmailRecord{
			ID:       fmt.Sprintf("msg-%02d", i+1),
			ThreadID: fmt.Sprintf("thr-%02d", i+1),
			Subject:  fmt.Sprintf("Subject %d", i+1),
			From:     fmt.Sprintf("Sender %d <sender%d@example.com>", i+1, i+1),
			Snippet:  "snippet",
			Date:     "Mon, 3 Mar 2025 10:00:00 +0000",
		}
	}
	return out
}
