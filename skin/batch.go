package skin

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/mogaika/rigbuilder/mesh"
	"github.com/mogaika/rigbuilder/mesh/topology"
	"github.com/mogaika/rigbuilder/skeleton"
	"github.com/mogaika/rigbuilder/status"
)

type BatchJob struct {
	Name     string
	Mesh     *mesh.Mesh
	Index    *topology.Index
	Skeleton *skeleton.Skeleton
	Options  Options
}

type BatchResult struct {
	Name    string
	Binding *Binding
	Report  *Report
	Err     error
}

// ComputeBatch skins many independent meshes on a worker pool. Compute is a
// pure function of its inputs, so this is plain fan-out with no shared
// mutable state; results come back in job order and nothing is retried.
func ComputeBatch(jobs []BatchJob) []BatchResult {
	results := make([]BatchResult, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var done int32
	jobChan := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobChan {
				job := &jobs[i]
				binding, report, err := Compute(job.Mesh, job.Index, job.Skeleton, job.Options)
				results[i] = BatchResult{Name: job.Name, Binding: binding, Report: report, Err: err}

				finished := atomic.AddInt32(&done, 1)
				status.Progress(float32(finished)/float32(len(jobs)),
					"Skinned %q (%v/%v)", job.Name, finished, len(jobs))
				if err != nil {
					status.Error("Skinning %q failed: %v", job.Name, err)
				}
			}
		}()
	}
	for i := range jobs {
		jobChan <- i
	}
	close(jobChan)
	wg.Wait()
	return results
}
