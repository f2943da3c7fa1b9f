// Package mocks provides gomock implementations of the core ports for service tests.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	agent := mocks.NewMockAgentInvoker(ctrl)
//	agent.EXPECT().Invoke(gomock.Any(), gomock.Any()).Return(json.RawMessage(`{}`), nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core JobRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=task_queue_mock.go github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core TaskQueue

// Agent and query engine mocks let tests script failures the fixture agent cannot express.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=agent_invoker_mock.go github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core AgentInvoker
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=query_engine_mock.go github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core QueryEngine

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core CacheRepository
