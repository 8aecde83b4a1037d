package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ivlev/lecture3d/internal/animation"
	"github.com/ivlev/lecture3d/internal/scene"
	"github.com/ivlev/lecture3d/internal/source"
)

func newInspectCmd() *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "inspect <asset>",
		Short: "Show a model's node tree, clips and avatar role mapping",
		Long: `inspect loads a .glb/.gltf model the way the classroom does and prints
its node tree, its animation clips, and which clip plays each avatar role
under the current animation.roles config.

Paths that exist on disk are opened directly; anything else resolves
against scene.asset_root or is fetched over HTTP.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			root := a.cfg.Scene.AssetRoot
			if _, err := os.Stat(args[0]); err == nil {
				root = ""
			}
			files := &source.FileFetcher{Root: root}
			loader := &scene.GLTFLoader{
				Files:   files,
				Fetcher: &source.Router{HTTP: source.NewHTTPFetcher("", a.cfg.Slides.FetchTimeout), File: files},
			}

			asset, err := loader.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			writeInspection(cmd.OutOrStdout(), asset, a.cfg.Animation.Roles, depth)
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "limit the printed tree depth (0 = no limit)")
	return cmd
}

func writeInspection(w io.Writer, asset *scene.Asset, roles map[string]string, depth int) {
	fmt.Fprintf(w, "Asset: %s (%d nodes)\n\n", asset.URL, asset.Root.Count())
	writeTree(w, asset.Root, "", depth, 0)

	fmt.Fprintf(w, "\nClips (%d):\n", len(asset.Clips))
	names := make([]string, len(asset.Clips))
	for i, c := range asset.Clips {
		names[i] = c.Name
		fmt.Fprintf(w, "  %-24s %6.2fs\n", c.Name, c.Duration)
	}

	res := animation.ResolveRoles(names, roles)
	fmt.Fprintln(w, "\nRoles:")
	for _, role := range animation.Roles {
		clip, ok := res.Clip(role)
		if !ok {
			fmt.Fprintf(w, "  %-10s -\n", role)
			continue
		}
		fmt.Fprintf(w, "  %-10s %s (%s)\n", role, clip, res.Source[role])
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
}

func writeTree(w io.Writer, n *scene.Node, indent string, maxDepth, level int) {
	name := n.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(w, "%s%s\n", indent, name)
	if maxDepth > 0 && level+1 >= maxDepth {
		if len(n.Children()) > 0 {
			fmt.Fprintf(w, "%s  ... %d more\n", indent, n.Count()-1)
		}
		return
	}
	next := indent + strings.Repeat(" ", 2)
	for _, c := range n.Children() {
		writeTree(w, c, next, maxDepth, level+1)
	}
}
