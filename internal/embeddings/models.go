package embeddings

// ModelDescriptor describes one encoder the model server can load.
type ModelDescriptor struct {
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Description string `json:"description"`
	Dimensions  int    `json:"dimensions,omitempty"`
	Latency     string `json:"latency"` // "fast" | "balanced" | "slow"
}

// The bounded model catalogue. Mirrors what the model server keeps warm; an
// unknown model name is a validation error, not a lazy download.
var (
	denseModels = []ModelDescriptor{
		{Name: "BAAI/bge-small-en-v1.5", Provider: "BAAI", Description: "384-dim English encoder, default", Dimensions: 384, Latency: "fast"},
		{Name: "BAAI/bge-base-en-v1.5", Provider: "BAAI", Description: "768-dim English encoder", Dimensions: 768, Latency: "balanced"},
		{Name: "sentence-transformers/all-MiniLM-L6-v2", Provider: "sentence-transformers", Description: "384-dim general purpose encoder", Dimensions: 384, Latency: "fast"},
		{Name: "intfloat/multilingual-e5-large", Provider: "intfloat", Description: "1024-dim multilingual encoder", Dimensions: 1024, Latency: "slow"},
	}

	sparseModels = []ModelDescriptor{
		{Name: "prithivida/Splade_PP_en_v1", Provider: "prithivida", Description: "SPLADE++ learned sparse encoder", Latency: "balanced"},
		{Name: "Qdrant/bm25", Provider: "Qdrant", Description: "BM25 term weighting", Latency: "fast"},
	}

	rerankerModels = []ModelDescriptor{
		{Name: "colbert-ir/colbertv2.0", Provider: "colbert-ir", Description: "ColBERT v2 late-interaction reranker", Dimensions: 128, Latency: "slow"},
		{Name: "answerdotai/answerai-colbert-small-v1", Provider: "answerdotai", Description: "Compact late-interaction reranker", Dimensions: 96, Latency: "balanced"},
	}
)

// DefaultDenseModel is used when a collection omits an explicit encoder.
const DefaultDenseModel = "BAAI/bge-small-en-v1.5"

// DenseModels returns the dense catalogue.
func DenseModels() []ModelDescriptor { return denseModels }

// SparseModels returns the sparse catalogue.
func SparseModels() []ModelDescriptor { return sparseModels }

// RerankerModels returns the late-interaction catalogue.
func RerankerModels() []ModelDescriptor { return rerankerModels }

// IsValidModel reports whether name is in the catalogue for the given kind.
func IsValidModel(kind Kind, name string) bool {
	for _, d := range catalogue(kind) {
		if d.Name == name {
			return true
		}
	}
	return false
}

// ModelDimensions returns the output dimension of a dense or reranker model,
// or 0 when unknown.
func ModelDimensions(kind Kind, name string) int {
	for _, d := range catalogue(kind) {
		if d.Name == name {
			return d.Dimensions
		}
	}
	return 0
}

func catalogue(kind Kind) []ModelDescriptor {
	switch kind {
	case KindDense:
		return denseModels
	case KindSparse:
		return sparseModels
	case KindLateInteraction:
		return rerankerModels
	default:
		return nil
	}
}
