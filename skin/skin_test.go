package skin_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/rigbuilder/mesh"
	"github.com/mogaika/rigbuilder/mesh/topology"
	"github.com/mogaika/rigbuilder/skeleton"
	"github.com/mogaika/rigbuilder/skin"
)

// strip builds a quad ladder along the given row positions, two vertices
// per row separated in z, so heat and geodesic have a connected surface.
func strip(rows []mgl32.Vec3) *mesh.Mesh {
	m := &mesh.Mesh{}
	for _, p := range rows {
		m.Positions = append(m.Positions, p, p.Add(mgl32.Vec3{0, 0, 0.3}))
	}
	for r := 0; r+1 < len(rows); r++ {
		a := uint32(r * 2)
		m.Triangles = append(m.Triangles,
			a, a+1, a+2,
			a+1, a+3, a+2)
	}
	return m
}

// boneChain builds count bones stacked along +y with the given spacing.
func boneChain(count int, spacing float32) (*skeleton.Skeleton, error) {
	bones := make([]skeleton.Bone, count)
	for i := range bones {
		parent := i - 1
		if i == 0 {
			parent = skeleton.BONE_PARENT_NONE
		}
		translation := mgl32.Vec3{0, spacing, 0}
		if i == 0 {
			translation = mgl32.Vec3{}
		}
		bones[i] = skeleton.Bone{
			Name:        fmt.Sprintf("bone%d", i),
			Parent:      parent,
			Translation: translation,
			Rotation:    mgl32.QuatIdent(),
		}
	}
	return skeleton.New(bones)
}

func verticalStrip(rowCount int, step float32) *mesh.Mesh {
	rows := make([]mgl32.Vec3, rowCount)
	for i := range rows {
		rows[i] = mgl32.Vec3{0, float32(i) * step, 0}
	}
	return strip(rows)
}

func checkBindingContract(t *testing.T, binding *skin.Binding, algorithm skin.Algorithm) {
	t.Helper()
	for v, inf := range binding.Vertices {
		total := float32(0)
		for slot := 0; slot < skin.MAX_INFLUENCES; slot++ {
			w := inf.Weights[slot]
			if w < 0 {
				t.Errorf("%v: vertex %v slot %v has negative weight %v", algorithm, v, slot, w)
			}
			if slot > 0 && w > inf.Weights[slot-1] {
				t.Errorf("%v: vertex %v weights not sorted: %v", algorithm, v, inf.Weights)
			}
			total += w
		}
		if math.Abs(float64(total)-1) > 1e-4 {
			t.Errorf("%v: vertex %v weights sum to %v; expected 1 within 1e-4", algorithm, v, total)
		}
	}
}

func TestAllAlgorithmsNormalize(t *testing.T) {
	m := verticalStrip(5, 0.5)
	idx, err := topology.NewIndex(m)
	if err != nil {
		t.Fatal(err)
	}
	skel, err := boneChain(3, 1)
	if err != nil {
		t.Fatal(err)
	}

	algorithms := []skin.Algorithm{
		skin.ALGORITHM_DISTANCE,
		skin.ALGORITHM_ENVELOPE,
		skin.ALGORITHM_HEAT,
		skin.ALGORITHM_GEODESIC,
	}
	for _, algorithm := range algorithms {
		binding, report, err := skin.Compute(m, idx, skel, skin.Options{
			Algorithm:     algorithm,
			DefaultRadius: 5,
		})
		if err != nil {
			t.Fatalf("%v: %v", algorithm, err)
		}
		if !report.Ok() {
			t.Errorf("%v: unexpected unweighted vertices %v", algorithm, report.UnweightedVertices)
		}
		if report.Algorithm != algorithm {
			t.Errorf("report names algorithm %v; expected %v", report.Algorithm, algorithm)
		}
		checkBindingContract(t, binding, algorithm)
	}
}

func TestComputeBatch(t *testing.T) {
	skel, err := boneChain(3, 1)
	if err != nil {
		t.Fatal(err)
	}

	jobs := make([]skin.BatchJob, 0, 5)
	for i := 0; i < 4; i++ {
		m := verticalStrip(4+i, 0.5)
		idx, err := topology.NewIndex(m)
		if err != nil {
			t.Fatal(err)
		}
		jobs = append(jobs, skin.BatchJob{
			Name:     fmt.Sprintf("mesh%d", i),
			Mesh:     m,
			Index:    idx,
			Skeleton: skel,
			Options:  skin.Options{Algorithm: skin.ALGORITHM_DISTANCE, DefaultRadius: 5},
		})
	}
	// one envelope for a 3-bone skeleton fails inside Compute; the batch
	// must carry the error in its slot without touching the other jobs
	broken := jobs[1]
	broken.Name = "broken"
	broken.Options = skin.Options{
		Algorithm: skin.ALGORITHM_ENVELOPE,
		Envelopes: []skin.Envelope{{HeadRadius: 1, TailRadius: 1}},
	}
	jobs = append(jobs[:2], append([]skin.BatchJob{broken}, jobs[2:]...)...)

	results := skin.ComputeBatch(jobs)
	if len(results) != len(jobs) {
		t.Fatalf("batch returned %v results; expected %v", len(results), len(jobs))
	}
	for i, result := range results {
		if result.Name != jobs[i].Name {
			t.Errorf("result %v is %q; expected %q in job order", i, result.Name, jobs[i].Name)
		}
		if result.Name == "broken" {
			if result.Err == nil {
				t.Errorf("broken job came back without an error")
			}
			if result.Binding != nil {
				t.Errorf("broken job came back with a binding")
			}
			continue
		}
		if result.Err != nil {
			t.Errorf("job %q failed: %v", result.Name, result.Err)
			continue
		}
		if result.Report == nil || !result.Report.Ok() {
			t.Errorf("job %q report %+v; expected no unweighted vertices", result.Name, result.Report)
		}
		if len(result.Binding.Vertices) != jobs[i].Mesh.VertexCount() {
			t.Errorf("job %q binding covers %v vertices, mesh has %v",
				result.Name, len(result.Binding.Vertices), jobs[i].Mesh.VertexCount())
		}
		checkBindingContract(t, result.Binding, jobs[i].Options.Algorithm)
	}

	if empty := skin.ComputeBatch(nil); len(empty) != 0 {
		t.Errorf("empty batch returned %v results", len(empty))
	}
}

func TestInfluenceCap(t *testing.T) {
	m := verticalStrip(3, 0.5)
	idx, err := topology.NewIndex(m)
	if err != nil {
		t.Fatal(err)
	}

	for _, boneCount := range []int{1, 8, skeleton.MAX_BONES} {
		skel, err := boneChain(boneCount, 0.005)
		if err != nil {
			t.Fatal(err)
		}
		binding, report, err := skin.Compute(m, idx, skel, skin.Options{
			Algorithm:     skin.ALGORITHM_DISTANCE,
			DefaultRadius: 10, // every bone reaches every vertex
		})
		if err != nil {
			t.Fatalf("%v bones: %v", boneCount, err)
		}
		checkBindingContract(t, binding, skin.ALGORITHM_DISTANCE)

		for v, inf := range binding.Vertices {
			nonZero := 0
			for _, w := range inf.Weights {
				if w > 0 {
					nonZero++
				}
			}
			if nonZero > skin.MAX_INFLUENCES {
				t.Errorf("%v bones: vertex %v carries %v influences", boneCount, v, nonZero)
			}
		}
		if boneCount > skin.MAX_INFLUENCES && report.TruncatedVertices != m.VertexCount() {
			t.Errorf("%v bones: %v truncated vertices; expected all %v",
				boneCount, report.TruncatedVertices, m.VertexCount())
		}
		if boneCount <= skin.MAX_INFLUENCES && report.TruncatedVertices != 0 {
			t.Errorf("%v bones: %v truncated vertices; expected 0", boneCount, report.TruncatedVertices)
		}
	}
}

func TestUnweightedVerticesReported(t *testing.T) {
	m := verticalStrip(2, 1)
	// a far island no bone can reach
	far := uint32(len(m.Positions))
	m.Positions = append(m.Positions,
		mgl32.Vec3{100, 100, 100}, mgl32.Vec3{101, 100, 100}, mgl32.Vec3{100, 101, 100})
	m.Triangles = append(m.Triangles, far, far+1, far+2)

	idx, err := topology.NewIndex(m)
	if err != nil {
		t.Fatal(err)
	}
	skel, err := boneChain(2, 1)
	if err != nil {
		t.Fatal(err)
	}

	binding, report, err := skin.Compute(m, idx, skel, skin.Options{
		Algorithm:     skin.ALGORITHM_DISTANCE,
		DefaultRadius: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}

	if report.Ok() {
		t.Fatalf("expected unweighted vertices in the report")
	}
	if len(report.UnweightedVertices) != 3 {
		t.Errorf("UnweightedVertices=%v; expected the 3 island vertices", report.UnweightedVertices)
	}
	for _, v := range report.UnweightedVertices {
		if v < int(far) {
			t.Errorf("vertex %v flagged unweighted but is in bone range", v)
		}
		inf := binding.Vertices[v]
		if inf.Weights != [4]float32{} || inf.Joints != [4]uint8{} {
			t.Errorf("unweighted vertex %v must carry zero influences, got %+v", v, inf)
		}
	}
}

// Two parallel arms joined only at the bottom. Straight-line distance
// bleeds the right arm's bones onto the left arm (the arms are 0.1 apart
// in space), while the surface path between the arm tops runs the whole
// way down and back up.
func uShape(t *testing.T) (*mesh.Mesh, *topology.Index, *skeleton.Skeleton) {
	t.Helper()
	var rows []mgl32.Vec3
	for y := float32(2); y >= 0; y -= 0.25 { // left arm, top down
		rows = append(rows, mgl32.Vec3{0, y, 0})
	}
	for y := float32(0); y <= 2; y += 0.25 { // right arm, bottom up
		rows = append(rows, mgl32.Vec3{0.1, y, 0})
	}
	m := strip(rows)
	idx, err := topology.NewIndex(m)
	if err != nil {
		t.Fatal(err)
	}

	skel, err := skeleton.New([]skeleton.Bone{
		{Name: "left", Parent: skeleton.BONE_PARENT_NONE, Translation: mgl32.Vec3{0, 0, 0.15}, Rotation: mgl32.QuatIdent()},
		{Name: "left_tip", Parent: 0, Translation: mgl32.Vec3{0, 2, 0}, Rotation: mgl32.QuatIdent()},
		{Name: "right", Parent: skeleton.BONE_PARENT_NONE, Translation: mgl32.Vec3{0.1, 0, 0.15}, Rotation: mgl32.QuatIdent()},
		{Name: "right_tip", Parent: 2, Translation: mgl32.Vec3{0, 2, 0}, Rotation: mgl32.QuatIdent()},
	})
	if err != nil {
		t.Fatal(err)
	}
	return m, idx, skel
}

func TestGeodesicRespectsSurfaceTopology(t *testing.T) {
	m, idx, skel := uShape(t)

	armWeights := func(algorithm skin.Algorithm) (left, right float32) {
		binding, _, err := skin.Compute(m, idx, skel, skin.Options{
			Algorithm:     algorithm,
			DefaultRadius: 5,
		})
		if err != nil {
			t.Fatal(err)
		}
		// vertex 0 is the top of the left arm
		inf := binding.Vertices[0]
		for slot := 0; slot < skin.MAX_INFLUENCES; slot++ {
			if inf.Weights[slot] <= 0 {
				continue
			}
			if inf.Joints[slot] <= 1 {
				left += inf.Weights[slot]
			} else {
				right += inf.Weights[slot]
			}
		}
		return left, right
	}

	euclidLeft, euclidRight := armWeights(skin.ALGORITHM_DISTANCE)
	if euclidRight < 0.3 {
		t.Errorf("distance weights left=%v right=%v; expected heavy bleed onto the right arm",
			euclidLeft, euclidRight)
	}

	geoLeft, geoRight := armWeights(skin.ALGORITHM_GEODESIC)
	if geoLeft < 0.9 {
		t.Errorf("geodesic weights left=%v right=%v; expected the left arm to dominate",
			geoLeft, geoRight)
	}
	if geoRight >= euclidRight {
		t.Errorf("geodesic right-arm weight %v did not drop below euclidean %v",
			geoRight, euclidRight)
	}
}

func TestEnvelopeHardCutoff(t *testing.T) {
	m := verticalStrip(3, 0.5) // rows at y 0, 0.5, 1; z 0 and 0.3
	idx, err := topology.NewIndex(m)
	if err != nil {
		t.Fatal(err)
	}
	skel, err := boneChain(2, 1)
	if err != nil {
		t.Fatal(err)
	}

	_, report, err := skin.Compute(m, idx, skel, skin.Options{
		Algorithm: skin.ALGORITHM_ENVELOPE,
		Envelopes: []skin.Envelope{{HeadRadius: 0.2, TailRadius: 0.2}, {HeadRadius: 0.2, TailRadius: 0.2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	// the z=0.3 column sits outside every capsule
	if report.Ok() {
		t.Fatalf("expected vertices outside the capsules to be reported")
	}
	for _, v := range report.UnweightedVertices {
		if v%2 == 0 {
			t.Errorf("vertex %v is on the bone axis column and must stay weighted", v)
		}
	}
}

func TestEnvelopeCountMismatch(t *testing.T) {
	m := verticalStrip(2, 1)
	skel, err := boneChain(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = skin.Compute(m, nil, skel, skin.Options{
		Algorithm: skin.ALGORITHM_ENVELOPE,
		Envelopes: []skin.Envelope{{HeadRadius: 1, TailRadius: 1}},
	})
	if err == nil {
		t.Errorf("expected error for envelope count != bone count")
	}
}

func TestHeatNeedsTopology(t *testing.T) {
	m := verticalStrip(2, 1)
	skel, err := boneChain(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := skin.Compute(m, nil, skel, skin.Options{Algorithm: skin.ALGORITHM_HEAT}); err == nil {
		t.Errorf("heat without a topology index must fail")
	}
	if _, _, err := skin.Compute(m, nil, skel, skin.Options{Algorithm: skin.ALGORITHM_GEODESIC}); err == nil {
		t.Errorf("geodesic without a topology index must fail")
	}
}

func TestParseAlgorithm(t *testing.T) {
	for _, name := range []string{"distance", "envelope", "heat", "geodesic"} {
		a, err := skin.ParseAlgorithm(name)
		if err != nil {
			t.Errorf("ParseAlgorithm(%q): %v", name, err)
		}
		if a.String() != name {
			t.Errorf("ParseAlgorithm(%q).String()=%q", name, a.String())
		}
	}
	if _, err := skin.ParseAlgorithm("voxel"); err == nil {
		t.Errorf("expected error for unknown algorithm name")
	}
}
