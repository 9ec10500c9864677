package inference

import "go.uber.org/zap"

// ModelResolver maps a task class to a preferred model name, with a
// published fallback order applied when the preferred model is
// unavailable, generalizing the teacher's model-name-to-provider
// detection into a model-name-to-task-class mapping.
type ModelResolver struct {
	byClass  map[string]string
	fallback []string
}

// DefaultModelResolver returns the built-in task-class mapping: a
// code-capable model for code tasks, a small fast model for
// conversational ones, and a general-purpose model otherwise.
func DefaultModelResolver() ModelResolver {
	return ModelResolver{
		byClass: map[string]string{
			"code":         "qwen2.5-coder:7b",
			"conversation": "llama3.2:3b",
			"research":     "llama3.1:8b",
			"default":      "llama3.1:8b",
		},
		fallback: []string{"llama3.1:8b", "llama3.2:3b", "llama3.2:1b"},
	}
}

// NewModelResolver builds a resolver from an explicit class→model mapping
// and fallback order, for configuration-driven overrides.
func NewModelResolver(byClass map[string]string, fallback []string) ModelResolver {
	return ModelResolver{byClass: byClass, fallback: fallback}
}

// Resolve returns the model name for taskClass. If availability is
// non-nil and rejects the preferred model, Resolve walks the fallback
// order and logs which model it fell back to.
func (r *ModelResolver) Resolve(taskClass string, availability func(model string) bool, logger *zap.Logger) string {
	preferred, ok := r.byClass[taskClass]
	if !ok {
		preferred = r.byClass["default"]
	}

	if availability == nil || availability(preferred) {
		return preferred
	}

	for _, candidate := range r.fallback {
		if candidate == preferred {
			continue
		}
		if availability(candidate) {
			if logger != nil {
				logger.Warn("falling back to alternate model",
					zap.String("task_class", taskClass),
					zap.String("preferred", preferred),
					zap.String("fallback", candidate))
			}
			return candidate
		}
	}

	if logger != nil {
		logger.Warn("no fallback model available, using preferred despite unavailability",
			zap.String("task_class", taskClass),
			zap.String("preferred", preferred))
	}
	return preferred
}
