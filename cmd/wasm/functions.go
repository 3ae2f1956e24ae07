//go:build js && wasm

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"syscall/js"

	"github.com/speakeasy-api/typeflow/pkg/playground"
)

// SummarizeFixture analyzes a YAML fixture and returns the per-block
// summary as JSON.
func SummarizeFixture(fixtureYAML string) (string, error) {
	summary, err := playground.SummarizeFixture(fixtureYAML)
	if err != nil {
		return "", err
	}

	jsonBytes, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}
	return string(jsonBytes), nil
}

// friendly replaces an analysis error with the message shown in the
// playground.
func friendly(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(playground.FormatAnalysisError(err))
}

// promisify wraps a Go function to return a JavaScript Promise
func promisify(fn func(args []js.Value) (string, error)) js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) any {
		handler := js.FuncOf(func(this js.Value, promiseArgs []js.Value) interface{} {
			resolve := promiseArgs[0]
			reject := promiseArgs[1]

			go func() {
				result, err := fn(args)
				if err != nil {
					errorConstructor := js.Global().Get("Error")
					errorObject := errorConstructor.New(err.Error())
					reject.Invoke(errorObject)
					return
				}

				resolve.Invoke(result)
			}()

			// The handler of a Promise doesn't return any value
			return nil
		})

		promiseConstructor := js.Global().Get("Promise")
		return promiseConstructor.New(handler)
	})
}

func main() {
	js.Global().Set("AnalyzeFixture", promisify(func(args []js.Value) (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("AnalyzeFixture: expected 1 arg (fixtureYAML), got %v", len(args))
		}

		report, err := playground.AnalyzeFixture(args[0].String())
		return report, friendly(err)
	}))

	js.Global().Set("SummarizeFixture", promisify(func(args []js.Value) (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("SummarizeFixture: expected 1 arg (fixtureYAML), got %v", len(args))
		}

		summary, err := SummarizeFixture(args[0].String())
		return summary, friendly(err)
	}))

	// Keep the program running
	<-make(chan bool)
}
