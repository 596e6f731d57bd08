package cli

import (
	"io"
	"strconv"

	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/registry"
	"github.com/gear6io/oxygen/server/titles"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var titlesCmd = &cobra.Command{
	Use:   "titles",
	Short: "List the games and versions the registry routes",
	Args:  cobra.NoArgs,
	RunE:  runTitles,
}

var titlesRoutes bool

func init() {
	rootCmd.AddCommand(titlesCmd)

	titlesCmd.Flags().BoolVar(&titlesRoutes, "routes", false, "list the service calls of each handler")
}

func runTitles(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	setupStyling(out)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := titles.Build(cfg, Version)
	if err != nil {
		return err
	}
	return writeRegistry(out, reg, titlesRoutes)
}

type routeLister interface {
	Routes() []string
}

func writeRegistry(out io.Writer, reg *registry.Registry[dispatch.Handler], routes bool) error {
	rows := [][]string{{"Game", "Versions", "Handler"}}
	handlers := make([]dispatch.Handler, 0)
	for _, b := range reg.Bindings() {
		rows = append(rows, []string{b.Game, b.Versions.String(), b.Name()})
		handlers = append(handlers, b.Handler)
	}
	if fb, ok := reg.Fallback(); ok {
		rows = append(rows, []string{"*", "fallback", registry.Binding[dispatch.Handler]{Handler: fb}.Name()})
		handlers = append(handlers, fb)
	}
	if err := renderTable(out, rows); err != nil {
		return err
	}
	if _, err := io.WriteString(out, pterm.Info.Sprintln(strconv.Itoa(reg.Games())+" games registered")); err != nil {
		return err
	}

	if !routes {
		return nil
	}
	for _, h := range handlers {
		rl, ok := h.(routeLister)
		if !ok {
			continue
		}
		items := make([]pterm.BulletListItem, 0)
		for _, r := range rl.Routes() {
			items = append(items, pterm.BulletListItem{Level: 0, Text: r})
		}
		name := registry.Binding[dispatch.Handler]{Handler: h}.Name()
		list, err := pterm.DefaultBulletList.WithItems(items).Srender()
		if err != nil {
			return err
		}
		if _, err := io.WriteString(out, pterm.DefaultSection.Sprintln(name)+list); err != nil {
			return err
		}
	}
	return nil
}
