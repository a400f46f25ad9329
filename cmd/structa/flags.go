package main

import (
	"github.com/spf13/cobra"

	"github.com/markdave123-py/Structa/internal/config"
	"github.com/markdave123-py/Structa/internal/core/strategy"
)

// strategyFlags mirrors strategy.Options on the command line. Chunking
// strategies may be repeated to run several strategies per document.
type strategyFlags struct {
	partitioning        string
	hiResModel          string
	chunking            []string
	maxCharacters       int
	multipageSections   bool
	similarityThreshold float64
	combineUnderNChars  int
	imageBlockTypes     []string
	languages           []string
	uniqueElementIDs    bool
	coordinates         bool

	profilePath  string
	profileNames []string
}

func (f *strategyFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	def := strategy.DefaultOptions()

	blocks := make([]string, len(def.ExtractImageBlockTypes))
	for i, b := range def.ExtractImageBlockTypes {
		blocks[i] = string(b)
	}

	fs.StringVar(&f.partitioning, "partitioning-strategy", string(def.PartitioningStrategy), "auto, fast, hi_res or ocr_only")
	fs.StringVar(&f.hiResModel, "hi-res-model-name", def.HiResModelName, "layout model used with hi_res")
	fs.StringSliceVar(&f.chunking, "chunking-strategy", []string{string(def.ChunkingStrategy)}, "none, basic, by_title, by_page or by_similarity (repeatable)")
	fs.IntVar(&f.maxCharacters, "max-characters", def.MaxCharacters, "hard chunk size limit")
	fs.BoolVar(&f.multipageSections, "multipage-sections", def.MultipageSections, "let by_title sections span pages")
	fs.Float64Var(&f.similarityThreshold, "similarity-threshold", 0, "by_similarity threshold in [0,1]")
	fs.IntVar(&f.combineUnderNChars, "combine-under-n-chars", def.CombineUnderNChars, "merge by_title sections shorter than this (default follows --max-characters when that is lower)")
	fs.StringSliceVar(&f.imageBlockTypes, "extract-image-block-types", blocks, "element types extracted as images")
	fs.StringSliceVar(&f.languages, "languages", def.Languages, "OCR language codes")
	fs.BoolVar(&f.uniqueElementIDs, "unique-element-ids", def.UniqueElementIDs, "random element ids instead of content hashes")
	fs.BoolVar(&f.coordinates, "coordinates", def.Coordinates, "include element coordinates")

	fs.StringVar(&f.profilePath, "profile", "", "YAML profile file; replaces the strategy flags")
	fs.StringSliceVar(&f.profileNames, "profile-name", nil, "profiles to run (default all)")
}

// options resolves the flags into one Options per strategy to run. The
// threshold only applies to by_similarity so it can sit beside other
// strategies on one command line.
func (f *strategyFlags) options(cmd *cobra.Command) ([]strategy.Options, error) {
	if f.profilePath != "" {
		profiles, err := config.LoadProfiles(f.profilePath)
		if err != nil {
			return nil, err
		}
		selected, err := config.Select(profiles, f.profileNames...)
		if err != nil {
			return nil, err
		}
		out := make([]strategy.Options, len(selected))
		for i, p := range selected {
			out[i] = p.Options
		}
		return out, nil
	}

	var threshold *float64
	if cmd.Flags().Changed("similarity-threshold") {
		threshold = strategy.Float64(f.similarityThreshold)
	}

	// The default combine size must not outgrow a smaller --max-characters.
	combine := f.combineUnderNChars
	if !cmd.Flags().Changed("combine-under-n-chars") && combine > f.maxCharacters {
		combine = f.maxCharacters
	}

	out := make([]strategy.Options, 0, len(f.chunking))
	for _, c := range f.chunking {
		opts := strategy.Options{
			PartitioningStrategy: strategy.PartitioningStrategy(f.partitioning),
			HiResModelName:       f.hiResModel,
			ChunkingStrategy:     strategy.ChunkingStrategy(c),
			MaxCharacters:        f.maxCharacters,
			MultipageSections:    f.multipageSections,
			CombineUnderNChars:   combine,
			Languages:            append([]string(nil), f.languages...),
			UniqueElementIDs:     f.uniqueElementIDs,
			Coordinates:          f.coordinates,
		}
		opts.ExtractImageBlockTypes = make([]strategy.ImageBlockType, len(f.imageBlockTypes))
		for i, b := range f.imageBlockTypes {
			opts.ExtractImageBlockTypes[i] = strategy.ImageBlockType(b)
		}
		if opts.ChunkingStrategy == strategy.ChunkBySimilarity {
			opts.SimilarityThreshold = threshold
		}
		out = append(out, opts)
	}
	return out, nil
}
