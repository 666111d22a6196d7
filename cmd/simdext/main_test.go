package main

import (
	"testing"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFlags(t *testing.T) {
	tests := []struct {
		name    string
		jobs    int
		timeout time.Duration
		wantErr string
	}{
		{"defaults", 0, time.Second, ""},
		{"explicit jobs", 4, time.Second, ""},
		{"negative jobs", -1, time.Second, "-j must be 0 (number of CPUs) or a positive job count, got -1"},
		{"negative timeout", 2, -time.Second, "-probe-timeout must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldJobs, oldTimeout := *parallel, *probeTimeout
			t.Cleanup(func() { *parallel, *probeTimeout = oldJobs, oldTimeout })
			*parallel, *probeTimeout = tt.jobs, tt.timeout

			err := checkFlags()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, exitFailure, mg.ExitStatus(err))
		})
	}
}

func TestRunRejectsNegativeJobsBeforeLoadingProject(t *testing.T) {
	oldJobs, oldProject := *parallel, *project
	t.Cleanup(func() { *parallel, *project = oldJobs, oldProject })
	*parallel = -3
	*project = "does-not-exist.yaml"

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-j must be")
}
