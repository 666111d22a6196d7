package simdext

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/magefile/mage/target"
	"golang.org/x/sync/errgroup"
)

// compileTask is one translation unit. It is built completely before the
// pool starts and only read by the worker that runs it.
type compileTask struct {
	spec    CompileSpec
	depends []string // headers and other inputs that invalidate the object
}

// compilePool runs compile tasks on a bounded number of workers.
type compilePool struct {
	compiler *Compiler
	workers  int
	force    bool
}

// Run compiles every task whose object is missing or stale and returns how
// many were compiled. The first failure cancels the remaining tasks.
func (p *compilePool) Run(ctx context.Context, tasks []compileTask) (int, error) {
	var compiled atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	workers := p.workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, task := range tasks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if !p.force {
				sources := append([]string{task.spec.Source}, task.depends...)
				stale, err := target.Path(task.spec.Object, sources...)
				if err != nil {
					return err
				}
				if !stale {
					return nil
				}
			}

			if err := os.MkdirAll(filepath.Dir(task.spec.Object), 0o755); err != nil {
				return err
			}
			if err := p.compiler.CompileObject(ctx, task.spec); err != nil {
				return err
			}
			compiled.Add(1)
			return nil
		})
	}

	err := g.Wait()
	return int(compiled.Load()), err
}

func taskObjects(tasks []compileTask) []string {
	objects := make([]string, len(tasks))
	for i, t := range tasks {
		objects[i] = t.spec.Object
	}
	return objects
}
