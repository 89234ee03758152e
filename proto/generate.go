// Package llmv1 holds the gRPC contract between the orchestrator and the
// LLM provider sidecar. The Go bindings (llm.pb.go, llm_grpc.pb.go) are
// generated from llm.proto and are not committed; run go generate after
// editing the contract.
package llmv1

//go:generate protoc --go_out=. --go_opt=paths=source_relative --go-grpc_out=. --go-grpc_opt=paths=source_relative llm.proto
