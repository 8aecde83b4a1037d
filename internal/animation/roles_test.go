package animation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveRoles(t *testing.T) {
	tests := []struct {
		name         string
		clips        []string
		explicit     map[string]string
		idle         string
		speaking     string
		warnings     int
		warnContains string
	}{
		{
			name:     "default names",
			clips:    []string{"Idle", "Talking"},
			idle:     "Idle",
			speaking: "Talking",
		},
		{
			name:     "keyword match",
			clips:    []string{"Armature|idle_loop", "Armature|Explaining"},
			idle:     "Armature|idle_loop",
			speaking: "Armature|Explaining",
		},
		{
			name:     "explicit mapping wins",
			clips:    []string{"Idle", "Talking", "Lecture"},
			explicit: map[string]string{"speaking": "Lecture"},
			idle:     "Idle",
			speaking: "Lecture",
		},
		{
			name:     "explicit mapping is case insensitive",
			clips:    []string{"Rest", "Lecture"},
			explicit: map[string]string{"Idle": "rest", "SPEAKING": "lecture"},
			idle:     "Rest",
			speaking: "Lecture",
		},
		{
			name:         "explicit miss falls back with suggestion",
			clips:        []string{"Idle", "Talking"},
			explicit:     map[string]string{"speaking": "Talkng"},
			idle:         "Idle",
			speaking:     "Talking",
			warnings:     1,
			warnContains: `did you mean "Talking"`,
		},
		{
			name:         "ambiguous speaking",
			clips:        []string{"Idle", "Talking", "Gesture"},
			idle:         "Idle",
			speaking:     "Talking",
			warnings:     1,
			warnContains: "ambiguous",
		},
		{
			name:         "unmapped roles fall back to first clip",
			clips:        []string{"Dance", "Jump"},
			idle:         "Dance",
			speaking:     "Dance",
			warnings:     2,
			warnContains: "falling back",
		},
		{
			name:         "unknown role key",
			clips:        []string{"Idle", "Talking"},
			explicit:     map[string]string{"dancing": "Dance"},
			idle:         "Idle",
			speaking:     "Talking",
			warnings:     1,
			warnContains: "unknown role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolveRoles(tt.clips, tt.explicit)

			idle, _ := res.Clip(RoleIdle)
			speaking, _ := res.Clip(RoleSpeaking)
			assert.Equal(t, tt.idle, idle)
			assert.Equal(t, tt.speaking, speaking)
			assert.Len(t, res.Warnings, tt.warnings, "%v", res.Warnings)

			if tt.warnContains != "" {
				var all []string
				for _, w := range res.Warnings {
					all = append(all, w.String())
				}
				assert.Contains(t, strings.Join(all, "\n"), tt.warnContains)
			}
		})
	}
}

func TestResolveRolesNoClips(t *testing.T) {
	res := ResolveRoles(nil, nil)
	assert.Empty(t, res.Clips)
	assert.Len(t, res.Warnings, 1)
}

func TestResolveRolesIdlePrefersExactName(t *testing.T) {
	res := ResolveRoles([]string{"idle_breathing", "Idle", "Talk"}, nil)
	assert.Equal(t, "Idle", res.Clips[RoleIdle])
	assert.Equal(t, "exact", res.Source[RoleIdle])
	assert.Empty(t, res.Warnings)
}
