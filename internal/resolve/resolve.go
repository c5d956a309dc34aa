// Package resolve computes the effective processing configuration for a
// queue item by layering tenant defaults, template fragments, and manual
// overrides.
package resolve

import (
	"encoding/json"
	"fmt"

	"lectern/internal/queue"
	"lectern/internal/services"
)

// Processing holds the per-stage knobs an executor consults. Pointer
// booleans distinguish "unset" from an explicit false so later layers can
// disable a stage a lower layer enabled.
type Processing struct {
	TrimSilence        *bool    `json:"trim_silence,omitempty"`
	SilenceThresholdDB *float64 `json:"silence_threshold_db,omitempty"`
	MinSilenceSeconds  *float64 `json:"min_silence_seconds,omitempty"`
	Transcribe         *bool    `json:"transcribe,omitempty"`
	TranscribeLanguage string   `json:"transcribe_language,omitempty"`
	ExtractTopics      *bool    `json:"extract_topics,omitempty"`
	MaxTopics          *int     `json:"max_topics,omitempty"`
	Subtitles          *bool    `json:"subtitles,omitempty"`
	SubtitleFormat     string   `json:"subtitle_format,omitempty"`
	MinDurationSeconds *float64 `json:"min_duration_seconds,omitempty"`
	MinSizeBytes       *int64   `json:"min_size_bytes,omitempty"`
}

// Metadata carries the descriptive fields applied at publish time.
type Metadata struct {
	TitleTemplate       string   `json:"title_template,omitempty"`
	DescriptionTemplate string   `json:"description_template,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	Category            string   `json:"category,omitempty"`
	Visibility          string   `json:"visibility,omitempty"`
}

// Output names the publish destinations and the aggregation policy.
type Output struct {
	Targets []OutputTarget `json:"targets,omitempty"`
	Policy  string         `json:"policy,omitempty"`
}

// OutputTarget names one destination platform.
type OutputTarget struct {
	Platform string `json:"platform"`
	Required *bool  `json:"required,omitempty"`
}

// Effective is the fully resolved configuration for one item. SkipReason
// is set when the resolved output has no targets, which parks the item
// instead of failing it. Exclusion is set when tenant policy rules the
// item out entirely, for example below a minimum duration; the
// orchestrator retires an excluded item before any stage runs.
type Effective struct {
	Processing Processing `json:"processing"`
	Metadata   Metadata   `json:"metadata"`
	Output     Output     `json:"output"`
	SkipReason string     `json:"skip_reason,omitempty"`
	Exclusion  string     `json:"exclusion,omitempty"`
}

// StageEnabled reports whether the named transform stage should run.
// Unset means enabled; only an explicit false disables a stage.
func (e *Effective) StageEnabled(stage string) bool {
	var flag *bool
	switch stage {
	case "trim":
		flag = e.Processing.TrimSilence
	case "transcribe":
		flag = e.Processing.Transcribe
	case "topics":
		flag = e.Processing.ExtractTopics
	case "subtitle":
		flag = e.Processing.Subtitles
	default:
		return true
	}
	return flag == nil || *flag
}

// RequiredOrDefault reports whether the target must succeed under the
// all_required policy. Unset defaults to required.
func (t OutputTarget) RequiredOrDefault() bool {
	return t.Required == nil || *t.Required
}

// Layer is one source of configuration fragments, split by section so a
// template can ship only a metadata fragment without touching processing.
type Layer struct {
	Processing json.RawMessage
	Metadata   json.RawMessage
	Output     json.RawMessage
}

// TenantLayer builds the lowest-precedence layer from tenant defaults.
// Tenant defaults are stored as a single JSON object with optional
// processing/metadata/output sections.
func TenantLayer(tenant *queue.Tenant) (Layer, error) {
	if tenant == nil || tenant.DefaultsJSON == "" || tenant.DefaultsJSON == "{}" {
		return Layer{}, nil
	}
	var sections struct {
		Processing json.RawMessage `json:"processing"`
		Metadata   json.RawMessage `json:"metadata"`
		Output     json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal([]byte(tenant.DefaultsJSON), &sections); err != nil {
		return Layer{}, services.Wrap(services.ErrConfiguration, "resolve", "tenant defaults",
			fmt.Sprintf("tenant %s defaults are not valid JSON", tenant.ID), err)
	}
	return Layer{Processing: sections.Processing, Metadata: sections.Metadata, Output: sections.Output}, nil
}

// TemplateLayer builds the middle layer from a matched template's stored
// fragments. A nil template contributes nothing.
func TemplateLayer(tpl *queue.Template) Layer {
	if tpl == nil {
		return Layer{}
	}
	return Layer{
		Processing: rawOrNil(tpl.ProcessingJSON),
		Metadata:   rawOrNil(tpl.MetadataJSON),
		Output:     rawOrNil(tpl.OutputJSON),
	}
}

// OverrideLayer builds the highest-precedence layer from the item's
// manual overrides, stored as one JSON object with optional sections.
func OverrideLayer(item *queue.Item) (Layer, error) {
	if item == nil || item.ManualOverrides == "" || item.ManualOverrides == "{}" {
		return Layer{}, nil
	}
	var sections struct {
		Processing json.RawMessage `json:"processing"`
		Metadata   json.RawMessage `json:"metadata"`
		Output     json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal([]byte(item.ManualOverrides), &sections); err != nil {
		return Layer{}, services.Wrap(services.ErrConfiguration, "resolve", "manual overrides",
			fmt.Sprintf("item %d overrides are not valid JSON", item.ID), err)
	}
	return Layer{Processing: sections.Processing, Metadata: sections.Metadata, Output: sections.Output}, nil
}

// Resolve merges the three layers in precedence order and returns the
// effective configuration. Scalars from later layers win; objects merge
// key by key; lists replace wholesale.
func Resolve(tenantLayer, templateLayer, overrideLayer Layer) (*Effective, error) {
	processing, err := mergeSection(tenantLayer.Processing, templateLayer.Processing, overrideLayer.Processing)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "resolve", "merge processing", "processing fragments failed to merge", err)
	}
	metadata, err := mergeSection(tenantLayer.Metadata, templateLayer.Metadata, overrideLayer.Metadata)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "resolve", "merge metadata", "metadata fragments failed to merge", err)
	}
	output, err := mergeSection(tenantLayer.Output, templateLayer.Output, overrideLayer.Output)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "resolve", "merge output", "output fragments failed to merge", err)
	}

	effective := &Effective{}
	if err := decodeSection(processing, &effective.Processing); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "resolve", "decode processing", "merged processing section is malformed", err)
	}
	if err := decodeSection(metadata, &effective.Metadata); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "resolve", "decode metadata", "merged metadata section is malformed", err)
	}
	if err := decodeSection(output, &effective.Output); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "resolve", "decode output", "merged output section is malformed", err)
	}

	if len(effective.Output.Targets) == 0 {
		effective.SkipReason = "no publish targets configured"
	}
	return effective, nil
}

// ForItem resolves the effective configuration for an item using its
// tenant and optionally matched template.
func ForItem(item *queue.Item, tenant *queue.Tenant, tpl *queue.Template) (*Effective, error) {
	tenantLayer, err := TenantLayer(tenant)
	if err != nil {
		return nil, err
	}
	overrideLayer, err := OverrideLayer(item)
	if err != nil {
		return nil, err
	}
	effective, err := Resolve(tenantLayer, TemplateLayer(tpl), overrideLayer)
	if err != nil {
		return nil, err
	}
	if effective.Output.Policy == "" && tenant != nil && tenant.PublishPolicy != "" {
		effective.Output.Policy = tenant.PublishPolicy
	}
	effective.Exclusion = exclusionReason(&effective.Processing, item)
	return effective, nil
}

// exclusionReason evaluates the resolved minimum-duration and
// minimum-size thresholds against the item. Unrecorded metadata (zero
// duration or size) is never grounds for exclusion.
func exclusionReason(p *Processing, item *queue.Item) string {
	if item == nil {
		return ""
	}
	if p.MinDurationSeconds != nil && item.DurationSeconds > 0 && item.DurationSeconds < *p.MinDurationSeconds {
		return fmt.Sprintf("duration %.0fs is below the %.0fs minimum", item.DurationSeconds, *p.MinDurationSeconds)
	}
	if p.MinSizeBytes != nil && item.SizeBytes > 0 && item.SizeBytes < *p.MinSizeBytes {
		return fmt.Sprintf("size %d bytes is below the %d byte minimum", item.SizeBytes, *p.MinSizeBytes)
	}
	return ""
}

func rawOrNil(value string) json.RawMessage {
	if value == "" || value == "{}" {
		return nil
	}
	return json.RawMessage(value)
}

func decodeSection(merged map[string]any, out any) error {
	if len(merged) == 0 {
		return nil
	}
	encoded, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

// mergeSection merges JSON fragments lowest precedence first. Each
// fragment must be a JSON object; nil fragments are skipped.
func mergeSection(layers ...json.RawMessage) (map[string]any, error) {
	merged := map[string]any{}
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		var fragment map[string]any
		if err := json.Unmarshal(layer, &fragment); err != nil {
			return nil, fmt.Errorf("fragment is not a JSON object: %w", err)
		}
		mergeInto(merged, fragment)
	}
	return merged, nil
}

// mergeInto applies overlay onto base in place. Nested objects merge
// recursively; lists and scalars from the overlay replace the base value.
// An explicit JSON null in the overlay clears the key.
func mergeInto(base, overlay map[string]any) {
	for key, value := range overlay {
		if value == nil {
			delete(base, key)
			continue
		}
		overlayMap, overlayIsMap := value.(map[string]any)
		baseMap, baseIsMap := base[key].(map[string]any)
		if overlayIsMap && baseIsMap {
			mergeInto(baseMap, overlayMap)
			continue
		}
		base[key] = value
	}
}
