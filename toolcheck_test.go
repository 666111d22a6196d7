package simdext

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRequiredTools(t *testing.T) {
	tests := []struct {
		name    string
		missing []string
		reqs    []ToolRequirement
		wantErr string
	}{
		{
			name: "all present",
			reqs: []ToolRequirement{{Name: "cc"}, {Name: "ar"}},
		},
		{
			name:    "alternative satisfies",
			missing: []string{"gcc"},
			reqs:    []ToolRequirement{{Name: "gcc", Alternatives: []string{"clang", "cc"}, Purpose: "C compiler"}},
		},
		{
			name:    "optional never fails",
			missing: []string{"ccache"},
			reqs:    []ToolRequirement{{Name: "ccache", Optional: true}},
		},
		{
			name:    "single missing",
			missing: []string{"cython"},
			reqs:    []ToolRequirement{{Name: "cython", Purpose: "cython source generator"}},
			wantErr: "cython (cython source generator) not found in PATH",
		},
		{
			name:    "multiple missing",
			missing: []string{"cc", "ar"},
			reqs: []ToolRequirement{
				{Name: "cc", Purpose: "C compiler"},
				{Name: "ar", Purpose: "static library archiver"},
				{Name: "cc", Purpose: "C compiler"},
			},
			wantErr: "missing required tools: cc (C compiler), ar (static library archiver)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubLookPath(t, tt.missing...)

			err := CheckRequiredTools(tt.reqs)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			assert.True(t, errors.Is(err, ErrToolingUnavailable))

			var te *ToolingError
			require.True(t, errors.As(err, &te))
		})
	}
}

func TestCheckToolAvailable(t *testing.T) {
	stubLookPath(t, "nasm")
	assert.NoError(t, CheckToolAvailable("cc"))
	assert.EqualError(t, CheckToolAvailable("nasm"), "nasm not found in PATH")
}
