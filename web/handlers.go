package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/mogaika/rigbuilder/retarget"
	"github.com/mogaika/rigbuilder/status"
	"github.com/mogaika/rigbuilder/utils"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[web] json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	log.Printf("[web] handler error: %v", err)
	w.WriteHeader(http.StatusBadRequest)
	writeJSON(w, map[string]string{"error": err.Error()})
}

type jsonBone struct {
	Id     int
	Name   string
	Parent int
	Head   [3]float32
	Tail   [3]float32
}

func HandlerSkeleton(w http.ResponseWriter, r *http.Request) {
	if serverRig.Skeleton == nil {
		writeError(w, errors.Errorf("No skeleton loaded"))
		return
	}
	s := serverRig.Skeleton
	bones := make([]jsonBone, len(s.Bones))
	for i := range s.Bones {
		head, tail := s.HeadTail(i)
		bones[i] = jsonBone{
			Id:     s.Bones[i].Id,
			Name:   s.Bones[i].Name,
			Parent: s.Bones[i].Parent,
			Head:   head,
			Tail:   tail,
		}
	}
	writeJSON(w, bones)
}

func HandlerSkinReport(w http.ResponseWriter, r *http.Request) {
	if serverRig.Report == nil {
		writeError(w, errors.Errorf("No skin computed"))
		return
	}
	writeJSON(w, map[string]interface{}{
		"algorithm":  serverRig.Report.Algorithm.String(),
		"ok":         serverRig.Report.Ok(),
		"unweighted": serverRig.Report.UnweightedVertices,
		"truncated":  serverRig.Report.TruncatedVertices,
	})
}

func HandlerClip(w http.ResponseWriter, r *http.Request) {
	if serverRig.Clip == nil {
		writeError(w, errors.Errorf("No clip loaded"))
		return
	}
	clip := serverRig.Clip
	joints := make([]string, len(clip.Joints))
	for i := range clip.Joints {
		joints[i] = clip.Joints[i].Name
	}
	warnings, err := clip.ValidateBoneLengths(serverRig.SampleCfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"frames":     clip.FrameCount(),
		"frame_time": clip.FrameTime,
		"joints":     joints,
		"warnings":   warnings,
	})
}

func HandlerClipFrame(w http.ResponseWriter, r *http.Request) {
	if serverRig.Clip == nil || serverRig.Skeleton == nil || serverRig.Map == nil {
		writeError(w, errors.Errorf("Need a clip, a skeleton and a skeleton map"))
		return
	}
	frame, err := strconv.Atoi(mux.Vars(r)["frame"])
	if err != nil {
		writeError(w, errors.Wrapf(err, "Bad frame number"))
		return
	}
	fp, err := retarget.Apply(serverRig.Map, serverRig.Clip, frame, serverRig.Skeleton, serverRig.SampleCfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"transforms":       fp.Transforms,
		"root_translation": fp.RootTranslation,
		"inverse_bind":     serverRig.Skeleton.InverseBindTransforms(),
	})
}

func HandlerRootMotion(w http.ResponseWriter, r *http.Request) {
	if serverRig.Clip == nil || serverRig.Skeleton == nil || serverRig.Map == nil {
		writeError(w, errors.Errorf("Need a clip, a skeleton and a skeleton map"))
		return
	}
	motion, err := retarget.RootMotion(serverRig.Map, serverRig.Clip, serverRig.Skeleton)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, motion)
}

// HandlerDump spews the whole rig snapshot as plain text. Heavy and ugly,
// for debugging only.
func HandlerDump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte(utils.SDump(serverRig))); err != nil {
		log.Printf("[web] dump write error: %v", err)
	}
}

func HandlerStatusWs(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[web] ws upgrade error: %v", err)
		return
	}
	status.NewClient(conn)
}
