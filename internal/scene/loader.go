package scene

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"

	"github.com/ivlev/lecture3d/internal/animation"
	"github.com/ivlev/lecture3d/internal/source"
)

var ErrAssetLoad = errors.New("asset load failed")

// Asset is a loaded model: its node subtree and animation clips.
type Asset struct {
	URL   string
	Root  *Node
	Clips []animation.Clip
}

// AssetLoader loads a model by URL.
type AssetLoader interface {
	Load(ctx context.Context, url string) (*Asset, error)
}

// GLTFLoader loads .glb/.gltf models. Local paths are opened from disk
// through Files so external buffers resolve; anything else is fetched and
// decoded in memory.
type GLTFLoader struct {
	Files   *source.FileFetcher
	Fetcher source.Fetcher
}

func (l *GLTFLoader) Load(ctx context.Context, url string) (*Asset, error) {
	doc, err := l.open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAssetLoad, url, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	asset, err := FromDocument(doc, path.Base(url))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAssetLoad, url, err)
	}
	asset.URL = url
	return asset, nil
}

func (l *GLTFLoader) open(ctx context.Context, url string) (*gltf.Document, error) {
	lower := strings.ToLower(url)
	remote := strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")

	if !remote && l.Files != nil {
		p, err := l.Files.Path(url)
		if err != nil {
			return nil, err
		}
		return gltf.Open(p)
	}
	if l.Fetcher == nil {
		return nil, fmt.Errorf("no fetcher for %s", url)
	}
	data, err := l.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode parses glTF JSON or GLB bytes.
func Decode(data []byte) (*gltf.Document, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// FromDocument converts the default scene of doc into a Node subtree named
// name, and collects its animations as clips.
func FromDocument(doc *gltf.Document, name string) (*Asset, error) {
	root := NewNode(name)

	var roots []int
	switch {
	case doc.Scene != nil && *doc.Scene < len(doc.Scenes):
		roots = doc.Scenes[*doc.Scene].Nodes
	case len(doc.Scenes) > 0:
		roots = doc.Scenes[0].Nodes
	default:
		roots = topLevelNodes(doc)
	}

	visiting := make(map[int]bool)
	for _, idx := range roots {
		child, err := buildNode(doc, idx, visiting)
		if err != nil {
			return nil, err
		}
		root.Add(child)
	}

	clips := make([]animation.Clip, 0, len(doc.Animations))
	for i, anim := range doc.Animations {
		clipName := anim.Name
		if clipName == "" {
			clipName = fmt.Sprintf("animation_%d", i)
		}
		clips = append(clips, animation.Clip{Name: clipName, Duration: clipDuration(doc, anim)})
	}

	return &Asset{Root: root, Clips: clips}, nil
}

func buildNode(doc *gltf.Document, idx int, visiting map[int]bool) (*Node, error) {
	if idx < 0 || idx >= len(doc.Nodes) {
		return nil, fmt.Errorf("node index %d out of range", idx)
	}
	if visiting[idx] {
		return nil, fmt.Errorf("node %d is its own ancestor", idx)
	}
	visiting[idx] = true
	defer delete(visiting, idx)

	gn := doc.Nodes[idx]
	name := gn.Name
	if name == "" {
		name = fmt.Sprintf("node_%d", idx)
	}
	n := NewNode(name)
	n.Position = mgl32.Vec3{float32(gn.Translation[0]), float32(gn.Translation[1]), float32(gn.Translation[2])}
	if r := gn.Rotation; r != [4]float64{} {
		n.Rotation = mgl32.Quat{W: float32(r[3]), V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])}}
	}
	if s := gn.Scale; s != [3]float64{} {
		n.Scale = mgl32.Vec3{float32(s[0]), float32(s[1]), float32(s[2])}
	}
	// matrix-only nodes: keep the translation column
	if n.Position == (mgl32.Vec3{}) && gn.Matrix != [16]float64{} {
		n.Position = mgl32.Vec3{float32(gn.Matrix[12]), float32(gn.Matrix[13]), float32(gn.Matrix[14])}
	}

	for _, c := range gn.Children {
		child, err := buildNode(doc, c, visiting)
		if err != nil {
			return nil, err
		}
		n.Add(child)
	}
	return n, nil
}

// topLevelNodes returns nodes no other node lists as a child.
func topLevelNodes(doc *gltf.Document) []int {
	isChild := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			isChild[c] = true
		}
	}
	var out []int
	for i := range doc.Nodes {
		if !isChild[i] {
			out = append(out, i)
		}
	}
	return out
}

// clipDuration is the largest keyframe time over the animation's samplers.
func clipDuration(doc *gltf.Document, anim *gltf.Animation) float64 {
	var d float64
	for _, s := range anim.Samplers {
		if s.Input < 0 || s.Input >= len(doc.Accessors) {
			continue
		}
		acc := doc.Accessors[s.Input]
		if len(acc.Max) > 0 && acc.Max[0] > d {
			d = acc.Max[0]
		}
	}
	return d
}
