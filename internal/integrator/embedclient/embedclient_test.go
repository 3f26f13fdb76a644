package embedclient

import (
	"context"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

type fakeEmbedServer struct {
	dim int
}

func (f *fakeEmbedServer) Dimension() int { return f.dim }

func (f *fakeEmbedServer) Embed(_ context.Context, text string) ([]float32, error) {
	out := make([]float32, f.dim)
	for i := range out {
		out[i] = float32(len(text) + i)
	}
	return out, nil
}

func (f *fakeEmbedServer) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestEmbedValuesStructRoundTrip(t *testing.T) {
	srv := &fakeEmbedServer{dim: 3}
	vals, err := srv.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	out := valuesStruct(vals)
	got := valuesFrom(out, "values")
	if len(got) != len(vals) {
		t.Fatalf("expected %d values, got %d", len(vals), len(got))
	}
	for i := range vals {
		if got[i] != vals[i] {
			t.Fatalf("value mismatch at %d: got %v want %v", i, got[i], vals[i])
		}
	}
}

func TestEmbedHandlerInvokesServer(t *testing.T) {
	srv := &fakeEmbedServer{dim: 3}
	dec := func(v any) error {
		*(v.(*structpb.Struct)) = *textStruct("hi")
		return nil
	}
	resp, err := embedHandler(srv, context.Background(), dec, nil)
	if err != nil {
		t.Fatalf("embedHandler: %v", err)
	}
	got := valuesFrom(resp.(*structpb.Struct), "values")
	want, _ := srv.Embed(context.Background(), "hi")
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(got))
	}
}

func TestTextListAndBatchStructRoundTrip(t *testing.T) {
	texts := []string{"a", "bb", "ccc"}
	req := textListStruct(texts)
	got := stringListFrom(req, "texts")
	if len(got) != len(texts) {
		t.Fatalf("expected %d texts, got %d", len(texts), len(got))
	}
	for i := range texts {
		if got[i] != texts[i] {
			t.Fatalf("text mismatch at %d: got %q want %q", i, got[i], texts[i])
		}
	}

	batches := [][]float32{{1, 2}, {3, 4, 5}}
	s := batchStruct(batches)
	list := s.Fields["embeddings"].GetListValue()
	if list == nil || len(list.Values) != len(batches) {
		t.Fatalf("expected %d embedding rows", len(batches))
	}
	for i, row := range batches {
		got := float32ListFromValue(list.Values[i])
		if len(got) != len(row) {
			t.Fatalf("row %d: expected %d values, got %d", i, len(row), len(got))
		}
	}
}
