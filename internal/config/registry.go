package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aulavox/aulavox/pkg/embeddings"
	"github.com/aulavox/aulavox/pkg/llm"
	"github.com/aulavox/aulavox/pkg/recognizer/asr"
	"github.com/aulavox/aulavox/pkg/recognizer/diarize"
	"github.com/aulavox/aulavox/pkg/recognizer/postprocess"
	"github.com/aulavox/aulavox/pkg/recognizer/research"
	"github.com/aulavox/aulavox/pkg/tts"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions for each
// pipeline stage. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	asr         map[string]func(BackendEntry) (asr.Recognizer, error)
	diarize     map[string]func(BackendEntry) (diarize.Diarizer, error)
	postprocess map[string]func(BackendEntry) (postprocess.PostProcessor, error)
	llm         map[string]func(BackendEntry) (llm.Provider, error)
	embeddings  map[string]func(BackendEntry) (embeddings.Provider, error)
	tts         map[string]func(BackendEntry) (tts.Engine, error)
	fetchers    map[string]func(SourceEntry) (research.Fetcher, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr:         make(map[string]func(BackendEntry) (asr.Recognizer, error)),
		diarize:     make(map[string]func(BackendEntry) (diarize.Diarizer, error)),
		postprocess: make(map[string]func(BackendEntry) (postprocess.PostProcessor, error)),
		llm:         make(map[string]func(BackendEntry) (llm.Provider, error)),
		embeddings:  make(map[string]func(BackendEntry) (embeddings.Provider, error)),
		tts:         make(map[string]func(BackendEntry) (tts.Engine, error)),
		fetchers:    make(map[string]func(SourceEntry) (research.Fetcher, error)),
	}
}

// RegisterASR registers a speech recognizer factory under name. Subsequent
// calls with the same name overwrite the previous registration; the same
// holds for every Register* method.
func (r *Registry) RegisterASR(name string, factory func(BackendEntry) (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterDiarizer registers a diarizer factory under name.
func (r *Registry) RegisterDiarizer(name string, factory func(BackendEntry) (diarize.Diarizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diarize[name] = factory
}

// RegisterPostProcessor registers a transcript post-processor factory under name.
func (r *Registry) RegisterPostProcessor(name string, factory func(BackendEntry) (postprocess.PostProcessor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postprocess[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(BackendEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(BackendEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterTTS registers a speech synthesis engine factory under name.
func (r *Registry) RegisterTTS(name string, factory func(BackendEntry) (tts.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterFetcher registers a research source fetcher factory under name.
func (r *Registry) RegisterFetcher(name string, factory func(SourceEntry) (research.Fetcher, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[name] = factory
}

// CreateASR instantiates a recognizer using the factory registered under
// entry.Name. Returns [ErrBackendNotRegistered] if no factory exists; the
// same holds for every Create* method.
func (r *Registry) CreateASR(entry BackendEntry) (asr.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.asr[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateDiarizer instantiates a diarizer using the factory registered under entry.Name.
func (r *Registry) CreateDiarizer(entry BackendEntry) (diarize.Diarizer, error) {
	r.mu.RLock()
	factory, ok := r.diarize[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: diarize/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreatePostProcessor instantiates a post-processor using the factory registered under entry.Name.
func (r *Registry) CreatePostProcessor(entry BackendEntry) (postprocess.PostProcessor, error) {
	r.mu.RLock()
	factory, ok := r.postprocess[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: postprocess/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry BackendEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry BackendEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a synthesis engine using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry BackendEntry) (tts.Engine, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateFetcher instantiates a research fetcher using the factory registered under entry.Name.
func (r *Registry) CreateFetcher(entry SourceEntry) (research.Fetcher, error) {
	r.mu.RLock()
	factory, ok := r.fetchers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}
