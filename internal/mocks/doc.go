// Package mocks provides mock implementations for testing purposes.
package mocks

//go:generate mockgen -destination=mock_interfaces.go -package=mocks github.com/sheikh-saqib/transfer-engine/internal/interfaces LedgerStore,EventPublisher
