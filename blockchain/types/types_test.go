package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyConflict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ConflictKind
	}{
		{"nil", nil, ConflictNone},
		{"plain", errors.New("blockhash not found"), ConflictNone},
		{"already in use message", errors.New("Allocate: account already in use"), ConflictAlreadyInUse},
		{"custom zero", errors.New("custom program error: 0x0"), ConflictCustomZero},
		{"custom zero uppercase", errors.New("Custom Program Error: 0x0"), ConflictCustomZero},
		{"custom zero prefix of another code", errors.New("custom program error: 0x0a"), ConflictNone},
		{"custom one", errors.New("custom program error: 0x1"), ConflictNone},
		{"custom zero after longer code", errors.New("custom program error: 0x01; custom program error: 0x0"), ConflictCustomZero},
		{"already initialized", errors.New("account or token already initialized"), ConflictAlreadyInitialized},
		{
			"in logs only",
			&ExecutionError{Message: "simulation failed", LogLines: []string{"Program log: ok", "Allocate: account Address {..} already in use"}},
			ConflictAlreadyInUse,
		},
		{
			"wrapped execution error",
			fmt.Errorf("submit: %w", &ExecutionError{Message: "x", LogLines: []string{"Program failed: custom program error: 0x0"}}),
			ConflictCustomZero,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ClassifyConflict(c.err))
		})
	}
}

func TestExecutionErrorMessage(t *testing.T) {
	err := &ExecutionError{Signature: "sig", Message: "boom"}
	assert.Equal(t, "transaction sig rejected: boom", err.Error())
	err = &ExecutionError{Message: "boom"}
	assert.Equal(t, "transaction rejected: boom", err.Error())
}
