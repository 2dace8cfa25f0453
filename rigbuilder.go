package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/qmuntal/gltf"

	"github.com/mogaika/rigbuilder/bvh"
	"github.com/mogaika/rigbuilder/config"
	"github.com/mogaika/rigbuilder/mesh"
	"github.com/mogaika/rigbuilder/mesh/topology"
	"github.com/mogaika/rigbuilder/retarget"
	"github.com/mogaika/rigbuilder/skin"
	"github.com/mogaika/rigbuilder/utils"
	"github.com/mogaika/rigbuilder/web"
)

func main() {
	var addr, meshPath, bvhPath, mapPath, writeMapPath, configPath, algorithm, order, out string
	var serve, proportional, verbose bool
	flag.StringVar(&addr, "i", "", "Address of inspection server (overrides config)")
	flag.StringVar(&meshPath, "mesh", "", "Comma separated paths to base meshes (gltf/glb); the first one drives export and the inspection server")
	flag.StringVar(&bvhPath, "bvh", "", "Path to motion capture file")
	flag.StringVar(&mapPath, "map", "", "Path to skeleton map yaml (empty - identity map by joint names)")
	flag.StringVar(&writeMapPath, "writemap", "", "Write the active skeleton map yaml to this path (for hand tuning)")
	flag.StringVar(&configPath, "config", "", "Path to pipeline config yaml")
	flag.StringVar(&algorithm, "algorithm", "", "Weight algorithm: distance, envelope, heat, geodesic (overrides config)")
	flag.StringVar(&order, "order", "", "Euler rotation order override for the bvh file (for example ZXY)")
	flag.StringVar(&out, "out", "", "Write skinned mesh gltf to this path")
	flag.BoolVar(&serve, "serve", false, "Start the inspection server after loading")
	flag.BoolVar(&proportional, "proportional", false, "Derive map translation scales from rest bone length ratios (when -map is empty)")
	flag.BoolVar(&verbose, "verbose", false, "Dump parsed clip joints and skin reports")
	flag.Parse()

	if configPath != "" {
		if err := config.Load(configPath); err != nil {
			log.Fatal(err)
		}
	}
	if algorithm != "" {
		config.SetWeightAlgorithm(algorithm)
	}
	cfg := config.Current()
	if addr == "" {
		addr = cfg.ListenAddr
	}
	if order == "" {
		order = cfg.RotationOrder
	}

	if bvhPath == "" && meshPath == "" {
		flag.PrintDefaults()
		return
	}

	rig := &web.Rig{SampleCfg: bvh.SampleConfig{RotationOrder: order}}

	if bvhPath != "" {
		data, err := os.ReadFile(bvhPath)
		if err != nil {
			log.Fatal(err)
		}
		clip, err := bvh.Parse(data)
		if err != nil {
			log.Fatalf("Failed to parse %q: %v", bvhPath, err)
		}
		rig.Clip = clip

		skel, err := clip.ToSkeleton()
		if err != nil {
			log.Fatal(err)
		}
		rig.Skeleton = skel
		log.Printf("[rig] Loaded clip %q: %v joints, %v frames (%.2fs at %.1f fps)\n%s",
			bvhPath, len(clip.Joints), clip.FrameCount(), clip.Duration(), clip.Fps(), skel.StringTree())
		if verbose {
			utils.LogDump(clip.Joints)
		}

		warnings, err := clip.ValidateBoneLengths(rig.SampleCfg)
		if err != nil {
			log.Fatal(err)
		}
		for _, warning := range warnings {
			log.Printf("[rig] clip warning: %v", warning)
		}

		switch {
		case mapPath != "":
			mapData, err := os.ReadFile(mapPath)
			if err != nil {
				log.Fatal(err)
			}
			if rig.Map, err = retarget.LoadSkeletonMap(mapData, skel); err != nil {
				log.Fatal(err)
			}
		case proportional:
			var err error
			if rig.Map, err = retarget.ProportionalMap(clip, skel); err != nil {
				log.Fatal(err)
			}
		default:
			var err error
			if rig.Map, err = retarget.IdentityMap(clip, skel); err != nil {
				log.Fatal(err)
			}
		}

		if writeMapPath != "" {
			mapData, err := retarget.SaveSkeletonMap(rig.Map, skel)
			if err != nil {
				log.Fatal(err)
			}
			if err := os.WriteFile(writeMapPath, mapData, 0644); err != nil {
				log.Fatal(err)
			}
			log.Printf("[rig] Wrote skeleton map %q", writeMapPath)
		}
	}

	if meshPath != "" && rig.Skeleton != nil {
		weightAlgorithm, err := skin.ParseAlgorithm(cfg.WeightAlgorithm)
		if err != nil {
			log.Fatal(err)
		}
		opts := skin.Options{
			Algorithm:      weightAlgorithm,
			DefaultRadius:  cfg.DefaultRadius,
			Falloff:        cfg.Falloff,
			HeatIterations: cfg.HeatIterations,
			HeatDamping:    cfg.HeatDamping,
		}

		jobs := []skin.BatchJob{}
		for _, path := range strings.Split(meshPath, ",") {
			m, err := mesh.FromGLTFFile(path)
			if err != nil {
				log.Fatal(err)
			}
			idx, err := topology.NewIndex(m)
			if err != nil {
				log.Fatalf("Failed to index %q: %v", path, err)
			}
			jobs = append(jobs, skin.BatchJob{
				Name:     path,
				Mesh:     m,
				Index:    idx,
				Skeleton: rig.Skeleton,
				Options:  opts,
			})
		}

		results := skin.ComputeBatch(jobs)
		for _, result := range results {
			if result.Err != nil {
				log.Fatalf("Failed to skin %q: %v", result.Name, result.Err)
			}
			log.Printf("[rig] %q: %v", result.Name, result.Report)
			if verbose {
				utils.LogDump(result.Report)
			}
		}

		// the first mesh drives export and the inspection server
		rig.Mesh = jobs[0].Mesh
		rig.Binding = results[0].Binding
		rig.Report = results[0].Report

		if out != "" {
			doc, err := skin.ExportGLTF(rig.Mesh, rig.Binding, rig.Skeleton)
			if err != nil {
				log.Fatal(err)
			}
			if err := gltf.Save(doc, out); err != nil {
				log.Fatal(err)
			}
			log.Printf("[rig] Wrote %q", out)
		}
	}

	if serve {
		if err := web.StartServer(addr, rig); err != nil {
			log.Fatal(err)
		}
	}
}
