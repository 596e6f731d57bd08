package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/protocol"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <packet|->",
	Short: "Print a captured packet as XML",
	Long: `Decrypt, decompress and parse a packet body captured from a cabinet.

Pass the framing headers of the capture with --compress and --info; a
packet sent without X-Eamuse-Info is not encrypted.

Examples:
  oxygen decode --compress lz77 --info 1-5f7a3c00-0001 alive.bin
  oxygen decode --format tree request.bin
  cat request.bin | oxygen decode -`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

type decodeOptions struct {
	compress string
	info     string
	format   string
	summary  bool
}

var decodeOpts = &decodeOptions{}

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().StringVar(&decodeOpts.compress, "compress", protocol.CompressionNone, "X-Compress value of the capture: lz77 or none")
	decodeCmd.Flags().StringVar(&decodeOpts.info, "info", "", "X-Eamuse-Info value of the capture")
	decodeCmd.Flags().StringVar(&decodeOpts.format, "format", "xml", "output format: xml, tree")
	decodeCmd.Flags().BoolVar(&decodeOpts.summary, "summary", true, "print the envelope summary before the document")
}

func runDecode(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	setupStyling(out)

	data, err := readInput(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	env, err := protocol.Decode(protocol.Frame{
		Compression: decodeOpts.compress,
		Info:        decodeOpts.info,
		Body:        data,
	})
	if err != nil {
		if offset, ok := kbin.Offset(err); ok {
			fmt.Fprint(cmd.ErrOrStderr(), pterm.Error.Sprintfln("malformed document at byte %d", offset))
		}
		return err
	}

	if logger := getLoggerFromContext(cmd.Context()); logger != nil {
		logger.Debug().Str("cmd", "decode").Str("model", env.Model()).Str("method", env.Method()).Msg("Decoded packet")
	}

	if decodeOpts.summary {
		if err := writeSummary(out, env, len(data)); err != nil {
			return err
		}
	}
	return writeDocument(out, env.Root, decodeOpts.format)
}

// writeSummary prints the framing and routing fields of env.
func writeSummary(w io.Writer, env *protocol.Envelope, size int) error {
	service := ""
	if s := env.Service(); s != nil {
		service = s.Name
	}
	seq := ""
	if n, ok := env.Sequence(); ok {
		seq = strconv.Itoa(int(n))
	}

	return renderTable(w, [][]string{
		{"Field", "Value"},
		{"root", env.Root.Name},
		{"model", env.Model()},
		{"srcid", env.SourceID()},
		{"service", service},
		{"method", env.Method()},
		{"sequence", seq},
		{"compression", env.Options.Compression},
		{"encrypted", strconv.FormatBool(env.Options.Encrypted())},
		{"document", env.Options.Document.Format.String()},
		{"encoding", env.Options.Document.Encoding.String()},
		{"bytes", strconv.Itoa(size)},
	})
}

// writeDocument prints root as indented XML or as a tree.
func writeDocument(w io.Writer, root *kbin.Node, format string) error {
	switch format {
	case "xml":
		_, err := io.WriteString(w, root.String()+"\n")
		return err
	case "tree":
		out, err := pterm.DefaultTree.WithRoot(treeNode(root)).Srender()
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	default:
		return errors.New(ErrInvalidFlag, "unknown output format", nil).AddContext("format", format)
	}
}

func treeNode(n *kbin.Node) pterm.TreeNode {
	var b strings.Builder
	b.WriteString(n.Name)
	if n.Type != kbin.TypeVoid {
		fmt.Fprintf(&b, " (%s", n.Type)
		if n.Array {
			b.WriteString("[]")
		}
		b.WriteString(")")
	}
	for _, a := range n.Attrs {
		fmt.Fprintf(&b, " %s=%q", a.Name, a.Value)
	}
	if text := n.Text(); text != "" {
		b.WriteString(": " + text)
	}

	node := pterm.TreeNode{Text: b.String()}
	for _, c := range n.Children {
		node.Children = append(node.Children, treeNode(c))
	}
	return node
}
