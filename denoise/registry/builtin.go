package registry

import (
	"context"
	"fmt"

	"bken/noisedsp/internal/loader"
	"bken/noisedsp/internal/logging"

	"bken/noisedsp/denoise"
	"bken/noisedsp/denoise/neural"
	"bken/noisedsp/denoise/spectral"
)

// defaultFrameSize is used when a Create call's config omits frame_size.
const defaultFrameSize = 480

// Default is the package-level registry pre-populated with the built-in
// spectral and neural reference implementations. Applications that need a
// custom or platform-specific backend build their own Registry instead of
// using Default.
var Default = NewRegistry()

// spectralModule is what the spectral loader caches: a descriptor of which
// kernel variant to build, not the kernel itself. Fetching it is where a
// real backend would resolve a glue script or WASM module keyed by variant
// and asset location; here the resolution is local and instant, but still
// goes through Loader.Load so concurrent Create calls for the same
// configuration coalesce onto one fetch instead of each racing to resolve
// its own. Each Create call still gets its own fresh Kernel instance built
// from the descriptor, since a Kernel carries per-session mutable state
// that must never be shared between concurrently running denoisers.
type spectralModule struct {
	frameSize int
	simd      bool
}

// spectralModuleKey is the spectral loader's cache key. It carries every
// input that can change which kernel module the loader must resolve:
// changing assets_path or prefer_simd must bust the cache rather than
// silently reuse a kernel resolved under the previous configuration.
type spectralModuleKey struct {
	FrameSize  int
	AssetsPath string
	PreferSIMD bool
}

// neuralModule is what the neural loader caches: the frame size plus the
// gzip-framed model blob fetched for this configuration.
type neuralModule struct {
	frameSize int
	modelGzip []byte
}

// neuralModuleKey is the neural loader's cache key. Neural carries no
// prefer_simd field, so assets_path is the only configuration input besides
// frame size that can change what gets fetched.
type neuralModuleKey struct {
	FrameSize  int
	AssetsPath string
}

var (
	spectralModuleLoader = loader.New[spectralModuleKey, spectralModule](fetchSpectralModule, nil)
	neuralModuleLoader   = loader.New[neuralModuleKey, neuralModule](fetchNeuralModule, nil)
)

// fetchSpectralModule resolves which kernel variant a given configuration
// should load: the SIMD-capable build when the platform can run it and the
// caller asked for it (prefer_simd=true, the default), the portable build
// otherwise. A real backend would download a compiled glue script or WASM
// module from assets_path (optionally named by wasm_file_name) here; the
// reference kernel has no actual artifact to fetch, so this only resolves
// the variant selection spec.md's capability-probing step calls for.
func fetchSpectralModule(ctx context.Context, key spectralModuleKey) (spectralModule, error) {
	simd := key.PreferSIMD && spectral.SIMDAvailable()
	return spectralModule{frameSize: key.FrameSize, simd: simd}, nil
}

// fetchNeuralModule fetches the model blob backing a neural denoiser
// instance and normalizes it to gzip framing — the model acquisition step
// spec.md's configuration-loading flow requires. A real fetch would pull
// the blob from assets_path or a remote model store, where it may already
// arrive gzip-compressed or as a raw blob depending on the transport in
// front of it; EnsureGzip normalizes either case the same way the loader
// package does for any other module artifact. Any failure here surfaces as
// a denoise.LoadError naming "model" as the failing artifact, so callers
// can tell a model acquisition failure apart from an ordinary processing
// error.
func fetchNeuralModule(ctx context.Context, key neuralModuleKey) (neuralModule, error) {
	blob := []byte(fmt.Sprintf("noisedsp-neural-model:%s:%d", key.AssetsPath, key.FrameSize))
	gz, err := loader.EnsureGzip(blob)
	if err != nil {
		return neuralModule{}, &denoise.LoadError{Artifact: "model", Cause: err}
	}
	return neuralModule{frameSize: key.FrameSize, modelGzip: gz}, nil
}

func init() {
	Default.Register(Entry{
		Type:    denoise.Spectral,
		Factory: newSpectralFactory,
	})
	Default.Register(Entry{
		Type:    denoise.Neural,
		Factory: newNeuralFactory,
	})
}

func newSpectralFactory(ctx context.Context, cfg map[string]any, logger *logging.Logger) (denoise.Denoiser, error) {
	sc := spectral.DefaultConfig().Patch(cfg)
	key := spectralModuleKey{
		FrameSize:  frameSizeFrom(cfg),
		AssetsPath: sc.AssetsPath,
		PreferSIMD: sc.PreferSIMD,
	}
	mod, err := spectralModuleLoader.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("registry: load spectral kernel module: %w", err)
	}
	var kernel spectral.Kernel
	if mod.simd {
		kernel = spectral.NewSIMDReferenceKernel(mod.frameSize)
	} else {
		kernel = spectral.NewReferenceKernel(mod.frameSize)
	}
	return spectral.New(kernel, sc, logger), nil
}

func newNeuralFactory(ctx context.Context, cfg map[string]any, logger *logging.Logger) (denoise.Denoiser, error) {
	nc := neural.DefaultConfig().Patch(cfg)
	key := neuralModuleKey{
		FrameSize:  frameSizeFrom(cfg),
		AssetsPath: nc.AssetsPath,
	}
	mod, err := neuralModuleLoader.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("registry: load neural kernel module: %w", err)
	}
	if _, err := loader.DecompressGzip(mod.modelGzip); err != nil {
		return nil, fmt.Errorf("registry: decompress neural model: %w", &denoise.LoadError{Artifact: "model", Cause: err})
	}
	kernel := neural.NewReferenceKernel(mod.frameSize)
	return neural.New(kernel, nc, logger), nil
}

func frameSizeFrom(cfg map[string]any) int {
	if v, ok := cfg["frame_size"].(int); ok && v > 0 {
		return v
	}
	return defaultFrameSize
}
