// Package web serves read-only JSON views of a loaded rig so artists can
// inspect skeletons, skin reports and sampled frames from a browser while
// a batch runs.
package web

import (
	"log"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/mogaika/rigbuilder/bvh"
	"github.com/mogaika/rigbuilder/mesh"
	"github.com/mogaika/rigbuilder/retarget"
	"github.com/mogaika/rigbuilder/skeleton"
	"github.com/mogaika/rigbuilder/skin"
)

// Rig is the server's read-only snapshot of the pipeline outputs. Fields
// may be nil when the corresponding stage did not run.
type Rig struct {
	Mesh      *mesh.Mesh
	Skeleton  *skeleton.Skeleton
	Binding   *skin.Binding
	Report    *skin.Report
	Clip      *bvh.Clip
	Map       *retarget.SkeletonMap
	SampleCfg bvh.SampleConfig
}

var serverRig *Rig

func StartServer(addr string, rig *Rig) error {
	serverRig = rig

	r := mux.NewRouter()
	r.HandleFunc("/json/skeleton", HandlerSkeleton)
	r.HandleFunc("/json/skin/report", HandlerSkinReport)
	r.HandleFunc("/json/clip", HandlerClip)
	r.HandleFunc("/json/clip/frame/{frame}", HandlerClipFrame)
	r.HandleFunc("/json/rootmotion", HandlerRootMotion)
	r.HandleFunc("/dump", HandlerDump)
	r.HandleFunc("/ws/status", HandlerStatusWs)

	h := handlers.RecoveryHandler()(r)
	h = handlers.LoggingHandler(os.Stdout, h)

	log.Printf("[web] Starting server %v", addr)

	return http.ListenAndServe(addr, h)
}
