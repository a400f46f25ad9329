package handlers

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/markdave123-py/Structa/internal/core"
	"github.com/markdave123-py/Structa/internal/core/strategy"
)

// optionsFromForm layers the submitted fields over the default strategy. Every
// chunking_strategy value yields its own Options; similarity_threshold only
// lands on the by_similarity ones so it can be sent alongside other strategies.
func optionsFromForm(form url.Values) ([]strategy.Options, error) {
	base := strategy.DefaultOptions()

	if v := form.Get("partitioning_strategy"); v != "" {
		base.PartitioningStrategy = strategy.PartitioningStrategy(v)
	}
	if _, ok := form["hi_res_model_name"]; ok {
		base.HiResModelName = form.Get("hi_res_model_name")
	}

	var err error
	if base.MaxCharacters, err = formInt(form, "max_characters", base.MaxCharacters); err != nil {
		return nil, err
	}
	if form.Get("combine_under_n_chars") == "" && base.CombineUnderNChars > base.MaxCharacters {
		base.CombineUnderNChars = base.MaxCharacters
	}
	if base.CombineUnderNChars, err = formInt(form, "combine_under_n_chars", base.CombineUnderNChars); err != nil {
		return nil, err
	}
	if base.MultipageSections, err = formBool(form, "multipage_sections", base.MultipageSections); err != nil {
		return nil, err
	}
	if base.UniqueElementIDs, err = formBool(form, "unique_element_ids", base.UniqueElementIDs); err != nil {
		return nil, err
	}
	if base.Coordinates, err = formBool(form, "coordinates", base.Coordinates); err != nil {
		return nil, err
	}

	if langs, ok := formList(form, "languages"); ok {
		base.Languages = langs
	}
	if blocks, ok := formList(form, "extract_image_block_types"); ok {
		base.ExtractImageBlockTypes = make([]strategy.ImageBlockType, len(blocks))
		for i, b := range blocks {
			base.ExtractImageBlockTypes[i] = strategy.ImageBlockType(b)
		}
	}

	var threshold *float64
	if v := form.Get("similarity_threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, core.NewInvalidStrategy("similarity_threshold", "not a number: %q", v)
		}
		threshold = strategy.Float64(f)
	}

	chunking, ok := formList(form, "chunking_strategy")
	switch {
	case !ok:
		chunking = []string{string(base.ChunkingStrategy)}
	case len(chunking) == 0:
		return nil, core.NewInvalidStrategy("chunking_strategy", "at least one value is required")
	}

	options := make([]strategy.Options, 0, len(chunking))
	for _, c := range chunking {
		opts := base
		opts.Languages = append([]string(nil), base.Languages...)
		opts.ExtractImageBlockTypes = append([]strategy.ImageBlockType(nil), base.ExtractImageBlockTypes...)
		opts.ChunkingStrategy = strategy.ChunkingStrategy(c)
		if opts.ChunkingStrategy == strategy.ChunkBySimilarity {
			opts.SimilarityThreshold = threshold
		}
		options = append(options, opts)
	}
	return options, nil
}

func formInt(form url.Values, key string, def int) (int, error) {
	v := form.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.NewInvalidStrategy(key, "not an integer: %q", v)
	}
	return n, nil
}

func formBool(form url.Values, key string, def bool) (bool, error) {
	v := form.Get(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, core.NewInvalidStrategy(key, "not a boolean: %q", v)
	}
	return b, nil
}

// formList accepts both repeated fields and comma-separated values.
func formList(form url.Values, key string) ([]string, bool) {
	raw, ok := form[key]
	if !ok {
		return nil, false
	}
	var out []string
	for _, v := range raw {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out, true
}
