package skin

import (
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/mogaika/rigbuilder/mesh"
	"github.com/mogaika/rigbuilder/skeleton"
)

// ExportGLTF assembles a skinned-mesh document: joint node tree, inverse
// bind accessor, and a primitive carrying JOINTS_0/WEIGHTS_0 alongside the
// geometry. Joint slots whose weight is zero are zeroed so viewers do not
// chase padding indices.
func ExportGLTF(m *mesh.Mesh, binding *Binding, skel *skeleton.Skeleton) (*gltf.Document, error) {
	if len(binding.Vertices) != m.VertexCount() {
		return nil, errors.Errorf("Binding covers %v vertices, mesh has %v",
			len(binding.Vertices), m.VertexCount())
	}

	doc := gltf.NewDocument()
	doc.Asset.Generator = "rigbuilder"

	jointNodes := make([]uint32, len(skel.Bones))
	for boneId := range skel.Bones {
		bone := &skel.Bones[boneId]

		node := &gltf.Node{
			Name:        bone.Name,
			Translation: bone.Translation,
			Rotation:    [4]float32{bone.Rotation.V[0], bone.Rotation.V[1], bone.Rotation.V[2], bone.Rotation.W},
			Scale:       bone.Scale,
		}

		jointNodes[boneId] = uint32(len(doc.Nodes))
		doc.Nodes = append(doc.Nodes, node)

		if bone.Parent == skeleton.BONE_PARENT_NONE {
			doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, jointNodes[boneId])
		} else {
			parent := doc.Nodes[jointNodes[bone.Parent]]
			parent.Children = append(parent.Children, jointNodes[boneId])
		}
	}

	inverseBind := make([][4][4]float32, len(skel.Bones))
	for boneId, ib := range skel.InverseBindMatrices() {
		for col := 0; col < 4; col++ {
			for row := 0; row < 4; row++ {
				inverseBind[boneId][col][row] = ib.At(row, col)
			}
		}
	}

	skinIndex := uint32(len(doc.Skins))
	doc.Skins = append(doc.Skins, &gltf.Skin{
		Name:                "skin",
		Joints:              jointNodes,
		InverseBindMatrices: gltf.Index(modeler.WriteAccessor(doc, gltf.TargetNone, inverseBind)),
	})

	attributes := make(map[string]uint32)

	positions := make([][3]float32, m.VertexCount())
	for i, p := range m.Positions {
		positions[i] = p
	}
	attributes["POSITION"] = modeler.WritePosition(doc, positions)

	if m.Normals != nil {
		normals := make([][3]float32, m.VertexCount())
		for i, normal := range m.Normals {
			if normal.Len() > 0.5 {
				normal = normal.Normalize()
			}
			normals[i] = normal
		}
		attributes["NORMAL"] = modeler.WriteNormal(doc, normals)
	}

	if m.UVs != nil {
		uvs := make([][2]float32, m.VertexCount())
		for i, uv := range m.UVs {
			uvs[i] = uv
		}
		attributes["TEXCOORD_0"] = modeler.WriteTextureCoord(doc, uvs)
	}

	{
		joints := make([][4]uint16, m.VertexCount())
		weights := make([][4]float32, m.VertexCount())
		for v := range binding.Vertices {
			influences := &binding.Vertices[v]
			weights[v] = influences.Weights
			for slot, weight := range influences.Weights {
				if weight != 0 {
					joints[v][slot] = uint16(influences.Joints[slot])
				}
			}
		}
		attributes["JOINTS_0"] = modeler.WriteJoints(doc, joints)
		attributes["WEIGHTS_0"] = modeler.WriteWeights(doc, weights)
	}

	meshIndex := uint32(len(doc.Meshes))
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: "mesh",
		Primitives: []*gltf.Primitive{{
			Attributes: attributes,
			Indices:    gltf.Index(modeler.WriteIndices(doc, m.Triangles)),
		}},
	})

	meshNode := uint32(len(doc.Nodes))
	doc.Nodes = append(doc.Nodes, &gltf.Node{
		Name: "mesh",
		Mesh: gltf.Index(meshIndex),
		Skin: gltf.Index(skinIndex),
	})
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, meshNode)

	return doc, nil
}
