package main

import (
	"context"

	"github.com/skosovsky/llmio"
)

type operands struct {
	Num1 float64 `json:"num1" jsonschema:"first operand"`
	Num2 float64 `json:"num2" jsonschema:"second operand"`
}

// calculatorTools returns the demo tools: add runs inline, multiply on its own goroutine.
func calculatorTools() ([]llmio.Tool, error) {
	add, err := llmio.NewTool("add", "Add two numbers",
		func(_ context.Context, a operands) (float64, error) {
			return a.Num1 + a.Num2, nil
		})
	if err != nil {
		return nil, err
	}
	multiply, err := llmio.NewTool("multiply", "Multiply two numbers",
		func(_ context.Context, a operands) (float64, error) {
			return a.Num1 * a.Num2, nil
		},
		llmio.WithAsync(),
	)
	if err != nil {
		return nil, err
	}
	return []llmio.Tool{add, multiply}, nil
}
