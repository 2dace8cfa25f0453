package mesh

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"

	"github.com/go-gl/mathgl/mgl32"
)

// FromGLTFFile loads the first primitive of the first mesh in a glTF/GLB
// file. Asset generators hand us base geometry this way; only POSITION,
// NORMAL, TEXCOORD_0 and the index accessor are consumed.
func FromGLTFFile(path string) (*Mesh, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to open gltf %q", path)
	}
	return FromGLTFDocument(doc)
}

func FromGLTFDocument(doc *gltf.Document) (*Mesh, error) {
	if len(doc.Meshes) == 0 {
		return nil, errors.Errorf("Document has no meshes")
	}
	gm := doc.Meshes[0]
	if len(gm.Primitives) == 0 {
		return nil, errors.Errorf("Mesh %q has no primitives", gm.Name)
	}
	prim := gm.Primitives[0]

	m := &Mesh{}

	posAccessor, ok := prim.Attributes["POSITION"]
	if !ok {
		return nil, errors.Errorf("Mesh %q has no POSITION attribute", gm.Name)
	}
	positions, err := readVec3Accessor(doc, posAccessor)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read positions")
	}
	m.Positions = positions

	if normAccessor, ok := prim.Attributes["NORMAL"]; ok {
		if m.Normals, err = readVec3Accessor(doc, normAccessor); err != nil {
			return nil, errors.Wrapf(err, "Failed to read normals")
		}
	}
	if uvAccessor, ok := prim.Attributes["TEXCOORD_0"]; ok {
		if m.UVs, err = readVec2Accessor(doc, uvAccessor); err != nil {
			return nil, errors.Wrapf(err, "Failed to read uvs")
		}
	}

	if prim.Indices == nil {
		return nil, errors.Errorf("Mesh %q primitive has no index accessor", gm.Name)
	}
	if m.Triangles, err = readIndexAccessor(doc, *prim.Indices); err != nil {
		return nil, errors.Wrapf(err, "Failed to read indices")
	}

	if err := m.Validate(); err != nil {
		return nil, errors.Wrapf(err, "Imported mesh %q is invalid", gm.Name)
	}
	return m, nil
}

func componentByteSize(t gltf.ComponentType) int {
	switch t {
	case gltf.ComponentUbyte, gltf.ComponentByte:
		return 1
	case gltf.ComponentUshort, gltf.ComponentShort:
		return 2
	default:
		return 4
	}
}

func typeComponentCount(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	default:
		return 16
	}
}

func accessorData(doc *gltf.Document, accessorIndex uint32) (*gltf.Accessor, []byte, error) {
	if int(accessorIndex) >= len(doc.Accessors) {
		return nil, nil, errors.Errorf("Accessor %v out of range", accessorIndex)
	}
	accessor := doc.Accessors[accessorIndex]
	if accessor.BufferView == nil {
		return nil, nil, errors.Errorf("Accessor %v has no buffer view (sparse not supported)", accessorIndex)
	}
	if int(*accessor.BufferView) >= len(doc.BufferViews) {
		return nil, nil, errors.Errorf("Accessor %v buffer view %v out of range", accessorIndex, *accessor.BufferView)
	}
	bufferView := doc.BufferViews[*accessor.BufferView]
	if int(bufferView.Buffer) >= len(doc.Buffers) {
		return nil, nil, errors.Errorf("Accessor %v buffer %v out of range", accessorIndex, bufferView.Buffer)
	}
	data := doc.Buffers[bufferView.Buffer].Data
	begin := bufferView.ByteOffset + accessor.ByteOffset
	end := bufferView.ByteOffset + bufferView.ByteLength
	if int(end) > len(data) || begin > end {
		return nil, nil, errors.Errorf("Accessor %v buffer view out of data range", accessorIndex)
	}
	// a count larger than the view actually holds must fail here, not crash
	// in the element loops below
	stride := componentByteSize(accessor.ComponentType) * typeComponentCount(accessor.Type)
	if need := int(accessor.Count) * stride; need > int(end-begin) {
		return nil, nil, errors.Errorf("Accessor %v declares %v elements x %v bytes, buffer view holds %v",
			accessorIndex, accessor.Count, stride, end-begin)
	}
	return accessor, data[begin:end], nil
}

func readVec3Accessor(doc *gltf.Document, accessorIndex uint32) ([]mgl32.Vec3, error) {
	accessor, data, err := accessorData(doc, accessorIndex)
	if err != nil {
		return nil, err
	}
	if accessor.ComponentType != gltf.ComponentFloat || accessor.Type != gltf.AccessorVec3 {
		return nil, errors.Errorf("Accessor %v is not a float vec3", accessorIndex)
	}
	out := make([]mgl32.Vec3, accessor.Count)
	for i := range out {
		for c := 0; c < 3; c++ {
			bits := binary.LittleEndian.Uint32(data[i*12+c*4:])
			out[i][c] = math.Float32frombits(bits)
		}
	}
	return out, nil
}

func readVec2Accessor(doc *gltf.Document, accessorIndex uint32) ([]mgl32.Vec2, error) {
	accessor, data, err := accessorData(doc, accessorIndex)
	if err != nil {
		return nil, err
	}
	if accessor.ComponentType != gltf.ComponentFloat || accessor.Type != gltf.AccessorVec2 {
		return nil, errors.Errorf("Accessor %v is not a float vec2", accessorIndex)
	}
	out := make([]mgl32.Vec2, accessor.Count)
	for i := range out {
		for c := 0; c < 2; c++ {
			bits := binary.LittleEndian.Uint32(data[i*8+c*4:])
			out[i][c] = math.Float32frombits(bits)
		}
	}
	return out, nil
}

func readIndexAccessor(doc *gltf.Document, accessorIndex uint32) ([]uint32, error) {
	accessor, data, err := accessorData(doc, accessorIndex)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, accessor.Count)
	switch accessor.ComponentType {
	case gltf.ComponentUshort:
		for i := range out {
			out[i] = uint32(binary.LittleEndian.Uint16(data[i*2:]))
		}
	case gltf.ComponentUint:
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(data[i*4:])
		}
	case gltf.ComponentUbyte:
		for i := range out {
			out[i] = uint32(data[i])
		}
	default:
		return nil, errors.Errorf("Unsupported index component type %v", accessor.ComponentType)
	}
	return out, nil
}
