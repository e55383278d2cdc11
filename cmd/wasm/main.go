//go:build js && wasm

// WASM bindings exposing the lexicon database service to the browser UI.
// The host page provides a MilonHost object wrapping its persistent cache
// (IndexedDB mirrored synchronously), and consumes the exports registered
// on the global Milon object.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"syscall/js"
	"time"

	"github.com/milonlab/milon/internal/store"
	"github.com/milonlab/milon/pkg/lexicon"
	"github.com/milonlab/milon/pkg/syncclient"
)

// Version info
const Version = "0.3.0"

var svc *lexicon.Service

func main() {
	fmt.Println("[Milon] WASM Ready v" + Version)

	js.Global().Set("Milon", js.ValueOf(map[string]interface{}{
		"version":             js.FuncOf(getVersion),
		"initialize":          js.FuncOf(initialize),
		"addEntries":          js.FuncOf(addEntries),
		"deleteEntries":       js.FuncOf(deleteEntries),
		"getAllEntries":       js.FuncOf(getAllEntries),
		"getEntriesByLetter":  js.FuncOf(getEntriesByLetter),
		"getStrongNumbersFor": js.FuncOf(getStrongNumbersFor),
		"resetDatabase":       js.FuncOf(resetDatabase),
		"getStatus":           js.FuncOf(getStatus),
		"exportImage":         js.FuncOf(exportImage),
	}))

	// Block forever; exports drive everything.
	select {}
}

// =============================================================================
// Host-backed cache
// =============================================================================

// hostCache adapts the page's MilonHost cache functions to the service's
// BlobCache. The host keeps an in-memory mirror of IndexedDB so these calls
// can stay synchronous.
type hostCache struct{}

func host() js.Value { return js.Global().Get("MilonHost") }

func (hostCache) Get() ([]byte, error) {
	v := host().Call("cacheGet")
	if v.IsNull() || v.IsUndefined() {
		return nil, nil
	}
	blob := make([]byte, v.Get("length").Int())
	js.CopyBytesToGo(blob, v)
	return blob, nil
}

func (hostCache) Put(blob []byte) error {
	arr := js.Global().Get("Uint8Array").New(len(blob))
	js.CopyBytesToJS(arr, blob)
	host().Call("cachePut", arr)
	return nil
}

func (hostCache) Clear() error {
	host().Call("cacheClear")
	return nil
}

// =============================================================================
// Exports
// =============================================================================

func getVersion(this js.Value, args []js.Value) interface{} {
	return Version
}

// initialize(configJSON) -> Promise<status>
// config: {serverUrl, lookupUrl, prebuiltUrls: [...], timeoutSeconds}
func initialize(this js.Value, args []js.Value) interface{} {
	var cfg struct {
		ServerURL      string   `json:"serverUrl"`
		LookupURL      string   `json:"lookupUrl"`
		PrebuiltURLs   []string `json:"prebuiltUrls"`
		TimeoutSeconds int      `json:"timeoutSeconds"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal([]byte(args[0].String()), &cfg); err != nil {
			return errorValue(fmt.Errorf("bad config: %w", err))
		}
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}

	return promise(func() (interface{}, error) {
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		var server lexicon.Syncer
		if cfg.ServerURL != "" {
			server = syncclient.New(cfg.ServerURL, timeout)
		}
		svc = lexicon.New(lexicon.Config{
			Cache:        hostCache{},
			Server:       server,
			PrebuiltURLs: cfg.PrebuiltURLs,
			LookupURL:    cfg.LookupURL,
			HTTPClient:   &http.Client{Timeout: timeout},
		})
		if err := svc.Init(context.Background()); err != nil {
			return nil, err
		}
		return statusValue(), nil
	})
}

// addEntries(entriesJSON) -> Promise<count>
func addEntries(this js.Value, args []js.Value) interface{} {
	if svc == nil {
		return errorNotInitialized()
	}
	if len(args) < 1 {
		return errorValue(fmt.Errorf("addEntries: missing entries"))
	}
	var entries []*store.Entry
	if err := json.Unmarshal([]byte(args[0].String()), &entries); err != nil {
		return errorValue(fmt.Errorf("addEntries: %w", err))
	}

	return promise(func() (interface{}, error) {
		if err := svc.AddEntries(context.Background(), entries); err != nil {
			return nil, err
		}
		return len(entries), nil
	})
}

// deleteEntries(idsJSON) -> Promise<void>
func deleteEntries(this js.Value, args []js.Value) interface{} {
	if svc == nil {
		return errorNotInitialized()
	}
	if len(args) < 1 {
		return errorValue(fmt.Errorf("deleteEntries: missing ids"))
	}
	var ids []string
	if err := json.Unmarshal([]byte(args[0].String()), &ids); err != nil {
		return errorValue(fmt.Errorf("deleteEntries: %w", err))
	}

	return promise(func() (interface{}, error) {
		return nil, svc.DeleteEntries(context.Background(), ids)
	})
}

// getAllEntries() -> entries JSON string
func getAllEntries(this js.Value, args []js.Value) interface{} {
	if svc == nil {
		return errorNotInitialized()
	}
	entries, err := svc.AllEntries()
	if err != nil {
		return errorValue(err)
	}
	return marshalValue(entries)
}

// getEntriesByLetter(letter) -> entries JSON string
func getEntriesByLetter(this js.Value, args []js.Value) interface{} {
	if svc == nil {
		return errorNotInitialized()
	}
	if len(args) < 1 {
		return errorValue(fmt.Errorf("getEntriesByLetter: missing letter"))
	}
	entries, err := svc.EntriesByLetter(args[0].String())
	if err != nil {
		return errorValue(err)
	}
	return marshalValue(entries)
}

// getStrongNumbersFor(lemma) -> numbers JSON string
func getStrongNumbersFor(this js.Value, args []js.Value) interface{} {
	if svc == nil {
		return errorNotInitialized()
	}
	if len(args) < 1 {
		return errorValue(fmt.Errorf("getStrongNumbersFor: missing lemma"))
	}
	numbers := svc.StrongNumbersFor(args[0].String())
	if numbers == nil {
		numbers = []string{}
	}
	return marshalValue(numbers)
}

// resetDatabase() -> Promise<void>; caller must initialize() again.
func resetDatabase(this js.Value, args []js.Value) interface{} {
	if svc == nil {
		return errorNotInitialized()
	}
	return promise(func() (interface{}, error) {
		return nil, svc.Reset()
	})
}

// getStatus() -> {ready, source, serverAvailable, invalidCache}
func getStatus(this js.Value, args []js.Value) interface{} {
	return statusValue()
}

// exportImage() -> Uint8Array of the serialized database
func exportImage(this js.Value, args []js.Value) interface{} {
	if svc == nil {
		return errorNotInitialized()
	}
	blob, err := svc.ExportImage()
	if err != nil {
		return errorValue(err)
	}
	arr := js.Global().Get("Uint8Array").New(len(blob))
	js.CopyBytesToJS(arr, blob)
	return arr
}

// =============================================================================
// Helpers
// =============================================================================

func statusValue() js.Value {
	return js.ValueOf(map[string]interface{}{
		"ready":           svc != nil && svc.Ready(),
		"source":          sourceString(),
		"serverAvailable": svc != nil && svc.ServerAvailable(),
		"invalidCache":    svc != nil && svc.HadInvalidCache(),
	})
}

func sourceString() string {
	if svc == nil {
		return ""
	}
	return string(svc.LoadSource())
}

func marshalValue(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return errorValue(err)
	}
	return string(data)
}

func errorValue(err error) js.Value {
	return js.ValueOf(map[string]interface{}{"error": err.Error()})
}

// errorNotInitialized is returned by every export invoked before initialize;
// a panic here would take down the whole runtime for the session.
func errorNotInitialized() js.Value {
	return errorValue(fmt.Errorf("database not initialized; call initialize first"))
}

// promise runs fn off the JS thread and resolves/rejects a Promise with its
// result.
func promise(fn func() (interface{}, error)) js.Value {
	executor := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolve, reject := args[0], args[1]
		go func() {
			v, err := fn()
			if err != nil {
				reject.Invoke(err.Error())
				return
			}
			resolve.Invoke(js.ValueOf(v))
		}()
		return nil
	})
	return js.Global().Get("Promise").New(executor)
}
