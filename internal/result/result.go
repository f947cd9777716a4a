// Package result carries the outcome of a generation step that may fall back
// to non-AI output. Callers can tell real AI output from an acceptable
// fallback without inspecting ad-hoc fields.
package result

// Source names where a value came from.
type Source string

const (
	SourceOpenAI      Source = "openai"
	SourceFree        Source = "free"
	SourceDummy       Source = "dummy"
	SourceTemplate    Source = "template"
	SourcePlaceholder Source = "placeholder"
)

// Kind is the outcome category.
type Kind int

const (
	KindSuccess Kind = iota
	KindDegraded
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindDegraded:
		return "degraded"
	default:
		return "failure"
	}
}

// Result is Success(value, source), Degraded(value, source, reason) or Failure(reason).
type Result[T any] struct {
	Kind   Kind
	Value  T
	Source Source
	Reason string
}

func Success[T any](v T, src Source) Result[T] {
	return Result[T]{Kind: KindSuccess, Value: v, Source: src}
}

func Degraded[T any](v T, src Source, reason string) Result[T] {
	return Result[T]{Kind: KindDegraded, Value: v, Source: src, Reason: reason}
}

func Failure[T any](reason string) Result[T] {
	return Result[T]{Kind: KindFailure, Reason: reason}
}

// OK reports whether the result carries a usable value.
func (r Result[T]) OK() bool {
	return r.Kind != KindFailure
}
