package skills

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/upb/hitl-control-plane/models"
)

// Context carries the caller identity and correlation keys of one execution
type Context struct {
	RequestedBy string   `json:"requested_by"`
	SenderRoles []string `json:"sender_roles,omitempty"`
	SessionKey  *string  `json:"session_key,omitempty"`
	ChannelID   *string  `json:"channel_id,omitempty"`
}

// Result is what a skill hands back to its caller. A result with OK false
// is a handled refusal, not an error.
type Result struct {
	OK           bool        `json:"ok"`
	Message      string      `json:"message"`
	Data         interface{} `json:"data,omitempty"`
	HITLActionID string      `json:"hitl_action_id,omitempty"`
}

// Handler runs a skill with already-scrubbed or already-approved arguments
type Handler func(ctx context.Context, args map[string]interface{}, sc Context) (Result, error)

// Skill pairs capability flags with the code that runs it
type Skill struct {
	Metadata models.SkillMetadata
	Handler  Handler
}

// Registry holds skills by name
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewRegistry creates a registry pre-populated with skills. It fails on the
// first skill Register refuses.
func NewRegistry(skills ...Skill) (*Registry, error) {
	r := &Registry{skills: make(map[string]Skill, len(skills))}
	for _, s := range skills {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a skill. Names must be unique and handlers non-nil.
func (r *Registry) Register(s Skill) error {
	if s.Metadata.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	if s.Handler == nil {
		return fmt.Errorf("skill %q has no handler", s.Metadata.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[s.Metadata.Name]; exists {
		return fmt.Errorf("skill %q already registered", s.Metadata.Name)
	}
	r.skills[s.Metadata.Name] = s
	return nil
}

// Get looks a skill up by name
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns metadata of every skill sorted by name
func (r *Registry) List() []models.SkillMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SkillMetadata, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s.Metadata)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
