package bptree

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/btree-query-bench/pagetree/dbms/index/btpage"
	"github.com/cockroachdb/errors"
)

// ExportDOT writes the tree as a Graphviz digraph: one HTML-table node per
// page, parent-to-child edges, leaves on one rank and dashed edges along
// the leaf chain. Render it with `dot -Tpng`.
func (t *Tree) ExportDOT(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.usable(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph BPlusTree {")
	// Layout and global styling
	fmt.Fprintln(bw, "  graph [ranksep=0.8, nodesep=0.5, bgcolor=\"#ffffff\", rankdir=TB];")
	fmt.Fprintln(bw, "  node [shape=none, fontname=\"Helvetica\", fontsize=10];")
	fmt.Fprintln(bw, "  edge [arrowsize=0.8, color=\"#444444\"];")

	if t.rootID != btpage.InvalidPage {
		var leaves []*btpage.Record
		if err := t.exportPage(bw, t.rootID, btpage.InvalidPage, 0, &leaves); err != nil {
			return err
		}
		if len(leaves) > 1 {
			fmt.Fprintln(bw, "  { rank=same;")
			for _, l := range leaves {
				fmt.Fprintf(bw, "    page%d;\n", l.ID)
			}
			fmt.Fprintln(bw, "  }")
		}
		for _, l := range leaves {
			if l.Next != btpage.InvalidPage {
				fmt.Fprintf(bw, "  page%d:next -> page%d [style=dashed, color=\"#03A9F4\", constraint=false, tailclip=false];\n", l.ID, l.Next)
			}
		}
	}
	fmt.Fprintln(bw, "}")
	return errors.Wrap(bw.Flush(), "bptree: export dot")
}

func (t *Tree) exportPage(w io.Writer, id, parent, depth uint32, leaves *[]*btpage.Record) error {
	p, err := t.cache.Get(id)
	if err != nil {
		return err
	}
	rec := p.Snapshot()
	t.cache.Release(p)
	if err := checkDescent(rec, parent, depth, t.store.PageCount()); err != nil {
		return err
	}

	fill := 100 * float64(rec.EncodedSize()) / float64(t.store.PageSize())
	var label strings.Builder
	if rec.IsLeaf() {
		// Leaf: green header, keys with their values, next pointer.
		fmt.Fprintf(&label, `<<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0" CELLPADDING="4">`+
			`<TR><TD COLSPAN="2" BGCOLOR="#D5E8D4"><B>PAGE %d (LEAF)</B><BR/><FONT POINT-SIZE="8">Fill: %.1f%%</FONT></TD></TR>`+
			`<TR><TD PORT="keys" BGCOLOR="#F5F5F5" ALIGN="LEFT">`, id, fill)
		for i, k := range rec.Keys {
			fmt.Fprintf(&label, `<B>%d</B> <FONT COLOR="#666666">[%d]</FONT><BR/>`, k, rec.Values[i])
		}
		next := "NULL"
		if rec.Next != btpage.InvalidPage {
			next = fmt.Sprint(rec.Next)
		}
		fmt.Fprintf(&label, `</TD><TD PORT="next" BGCOLOR="#E1F5FE" VALIGN="MIDDLE">Next: %s</TD></TR></TABLE>>`, next)
		fmt.Fprintf(w, "  page%d [label=%s];\n", id, label.String())
		*leaves = append(*leaves, rec)
		return nil
	}

	// Internal: blue header, child ports interleaved with separators.
	n := len(rec.Keys)
	fmt.Fprintf(&label, `<<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0" CELLPADDING="4">`+
		`<TR><TD COLSPAN="%d" BGCOLOR="#DAE8FC"><B>PAGE %d (INTERNAL)</B><BR/><FONT POINT-SIZE="8">Fill: %.1f%%</FONT></TD></TR><TR>`,
		2*n+1, id, fill)
	for i, k := range rec.Keys {
		fmt.Fprintf(&label, `<TD PORT="f%d" BGCOLOR="#E1F5FE">P:%d</TD><TD BGCOLOR="#FFFFFF"><B>%d</B></TD>`, i, rec.Children[i], k)
	}
	fmt.Fprintf(&label, `<TD PORT="f%d" BGCOLOR="#E1F5FE">P:%d</TD></TR></TABLE>>`, n, rec.Children[n])
	fmt.Fprintf(w, "  page%d [label=%s];\n", id, label.String())

	for i, child := range rec.Children {
		if err := t.exportPage(w, child, id, depth+1, leaves); err != nil {
			return err
		}
		fmt.Fprintf(w, "  page%d:f%d -> page%d;\n", id, i, child)
	}
	return nil
}
