package session

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport/transporttest"
)

func benchSession(b *testing.B, stub *transporttest.StubServer) *Session {
	b.Helper()
	mock := transporttest.NewMock(stub)
	if err := mock.Open(context.Background()); err != nil {
		b.Fatal(err)
	}
	s := New(mock)
	b.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if _, err := s.Initialize(ctx); err != nil {
		b.Fatal(err)
	}
	if _, err := s.ListTools(ctx); err != nil {
		b.Fatal(err)
	}
	return s
}

func BenchmarkSession(b *testing.B) {
	args := json.RawMessage(`{"text":"benchmark payload"}`)

	b.Run("CallTool", func(b *testing.B) {
		s := benchSession(b, &transporttest.StubServer{})
		ctx := context.Background()
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := s.CallTool(ctx, "echo", args); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("ReadResource", func(b *testing.B) {
		s := benchSession(b, &transporttest.StubServer{})
		ctx := context.Background()
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := s.ReadResource(ctx, transporttest.ReadmeResource.URI); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("ListToolsPaged", func(b *testing.B) {
		tools := make([]protocol.Tool, 50)
		for i := range tools {
			tools[i] = protocol.Tool{Name: "tool_" + strconv.Itoa(i), InputSchema: transporttest.EchoTool.InputSchema}
		}
		s := benchSession(b, &transporttest.StubServer{Tools: tools, PageSize: 10})
		ctx := context.Background()
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := s.ListTools(ctx); err != nil {
				b.Fatal(err)
			}
		}
	})

	for _, workers := range []int{10, 100} {
		b.Run("ConcurrentCallTool/"+strconv.Itoa(workers), func(b *testing.B) {
			s := benchSession(b, &transporttest.StubServer{})
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()

			var wg sync.WaitGroup
			per := b.N/workers + 1
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < per; i++ {
						if _, err := s.CallTool(ctx, "echo", args); err != nil {
							b.Error(err)
							return
						}
					}
				}()
			}
			wg.Wait()
		})
	}
}
