// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	mdpe "github.com/clrimage/mdpe"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	dosHeader   bool
	ntHeader    bool
	sections    bool
	symbols     bool
	tablesFlag  bool
	tableName   string
	heapsFlag   bool
	outPath     string
)

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func prettyPrint(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// dumpMetadataTables renders row counts for every present CLI metadata
// table and, when tableName is "TypeDef", also lists the TypeDef rows. No
// other table name lists rows.
func dumpMetadataTables(f *mdpe.File) {
	if f.Metadata == nil {
		fmt.Println("image has no CLI metadata")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Table", "Rows"})

	a := f.Metadata
	counts := map[string]int{
		"TypeDef":          len(a.TypeDefs),
		"TypeRef":          len(a.TypeRefs),
		"TypeSpec":         len(a.TypeSpecs),
		"Field":            len(a.Fields),
		"MethodDef":        len(a.Methods),
		"Param":            len(a.Params),
		"MemberRef":        len(a.MemberRefs),
		"ModuleRef":        len(a.ModuleRefs),
		"AssemblyRef":      len(a.AssemblyRefs),
		"File":             len(a.Files),
		"ExportedType":     len(a.ExportedTypes),
		"ManifestResource": len(a.ManifestResources),
		"Property":         len(a.Properties),
		"Event":            len(a.Events),
		"GenericParam":     len(a.GenericParams),
		"MethodSpec":       len(a.MethodSpecs),
		"CustomAttribute":  len(a.CustomAttributes),
	}
	for _, name := range []string{
		"TypeDef", "TypeRef", "TypeSpec", "Field", "MethodDef", "Param",
		"MemberRef", "ModuleRef", "AssemblyRef", "File", "ExportedType",
		"ManifestResource", "Property", "Event", "GenericParam", "MethodSpec",
		"CustomAttribute",
	} {
		if n := counts[name]; n > 0 {
			table.Append([]string{name, fmt.Sprint(n)})
		}
	}
	table.Render()

	if tableName == "TypeDef" {
		t := tablewriter.NewWriter(os.Stdout)
		t.SetHeader([]string{"#", "Namespace", "Name"})
		for i, td := range a.TypeDefs {
			t.Append([]string{fmt.Sprint(i + 1), td.Namespace, td.Name})
		}
		t.Render()
	}
}

// printHeaderSummary renders the machine/subsystem/characteristics bitmasks
// as the human-readable strings mdpe.ImageFileHeader*/ImageOptionalHeader*
// already know how to produce, instead of the raw ints prettyPrint emits.
func printHeaderSummary(f *mdpe.File) {
	fh := f.NtHeader.FileHeader
	fmt.Printf("machine: %s\n", fh.Machine)
	fmt.Printf("characteristics: %v\n", fh.Characteristics.String())

	switch oh := f.NtHeader.OptionalHeader.(type) {
	case mdpe.ImageOptionalHeader32:
		fmt.Printf("magic: %s\n", f.PrettyOptionalHeaderMagic())
		fmt.Printf("subsystem: %s\n", oh.Subsystem)
		fmt.Printf("dll characteristics: %v\n", oh.DllCharacteristics.String())
	case mdpe.ImageOptionalHeader64:
		fmt.Printf("magic: %s\n", f.PrettyOptionalHeaderMagic())
		fmt.Printf("subsystem: %s\n", oh.Subsystem)
		fmt.Printf("dll characteristics: %v\n", oh.DllCharacteristics.String())
	}
}

// dumpCOFFSymbols renders the COFF symbol table, if present, using the
// name/section/type Stringer helpers rather than raw numeric fields.
func dumpCOFFSymbols(f *mdpe.File) {
	if !f.HasCOFF || len(f.COFF.SymbolTable) == 0 {
		fmt.Println("image has no COFF symbol table")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "Value", "Section", "Type", "StorageClass"})
	for i := range f.COFF.SymbolTable {
		sym := &f.COFF.SymbolTable[i]
		name, err := sym.String(f)
		if err != nil {
			name = fmt.Sprintf("<error: %v>", err)
		}
		table.Append([]string{
			name,
			fmt.Sprint(sym.Value),
			sym.SectionNumberName(f),
			f.PrettyCOFFTypeRepresentation(sym.Type),
			fmt.Sprint(sym.StorageClass),
		})
	}
	table.Render()
}

func dumpHeaps(f *mdpe.File) {
	if f.Metadata == nil {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Heap", "Bytes"})
	for name, bytes := range f.CLR.MetadataStreams {
		table.Append([]string{name, fmt.Sprint(len(bytes))})
	}
	table.Render()
}

func parsePE(filename string, cmd *cobra.Command) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %v\n", filename, err)
		return
	}

	f, err := mdpe.NewBytes(data, &mdpe.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening %s: %v\n", filename, err)
		return
	}
	defer f.Close()

	if err := f.Parse(); err != nil {
		fmt.Fprintf(os.Stderr, "parsing %s: %v\n", filename, err)
		return
	}

	if dosHeader {
		fmt.Println(prettyPrint(f.DOSHeader))
	}
	if ntHeader {
		fmt.Println(prettyPrint(f.NtHeader))
		printHeaderSummary(f)
	}
	if sections {
		fmt.Println(prettyPrint(f.Sections))
		for _, sec := range f.Sections {
			fmt.Printf("%s flags: %v\n", sec.String(), sec.PrettySectionFlags())
		}
	}
	if symbols {
		dumpCOFFSymbols(f)
	}
	if tablesFlag {
		dumpMetadataTables(f)
	}
	if heapsFlag {
		dumpHeaps(f)
	}
	if len(f.Anomalies) > 0 && verbose {
		fmt.Println("anomalies:")
		for _, a := range f.Anomalies {
			fmt.Println(" -", a)
		}
	}
}

func runDump(cmd *cobra.Command, args []string) {
	path := args[0]
	if !isDirectory(path) {
		parsePE(path, cmd)
		return
	}

	var files []string
	filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	for _, file := range files {
		parsePE(file, cmd)
	}
}

func runBuild(cmd *cobra.Command, args []string) {
	// A minimal demonstration model: one module, one assembly definition,
	// no types - exercises the build pipeline's empty-assembly seed
	// scenario end to end.
	a := &mdpe.Assembly{
		Module: &mdpe.Module{Name: "Empty.dll"},
		Definition: &mdpe.AssemblyDef{
			MajorVersion: 1,
			Name:         "Empty",
		},
	}

	b := mdpe.NewBuilder(a)
	if err := b.Enumerate(); err != nil {
		fmt.Fprintf(os.Stderr, "enumerate: %v\n", err)
		os.Exit(1)
	}
	out, err := b.Emit()
	if err != nil {
		fmt.Fprintf(os.Stderr, "emit: %v\n", err)
		os.Exit(1)
	}

	if outPath == "" {
		fmt.Printf("built %d bytes of metadata root\n", len(out))
		return
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "writing %s: %v\n", outPath, err)
		os.Exit(1)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "mdpe",
		Short: "A CLI metadata engine for PE/.NET images",
		Long:  "Reads and writes the ECMA-335 CLI metadata tables/heaps embedded in a PE image.",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mdpe 0.1.0")
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump <file-or-dir>",
		Short: "Dump PE and CLI metadata structures",
		Args:  cobra.MinimumNArgs(1),
		Run:   runDump,
	}
	dumpCmd.Flags().BoolVar(&dosHeader, "dosheader", false, "dump the DOS header")
	dumpCmd.Flags().BoolVar(&ntHeader, "ntheader", false, "dump the NT header")
	dumpCmd.Flags().BoolVar(&sections, "sections", false, "dump section headers")
	dumpCmd.Flags().BoolVar(&symbols, "symbols", false, "dump the COFF symbol table")
	dumpCmd.Flags().BoolVar(&tablesFlag, "tables", true, "dump CLI metadata table row counts")
	dumpCmd.Flags().StringVar(&tableName, "table", "", "also dump the rows of the named table (only TypeDef is supported)")
	dumpCmd.Flags().BoolVar(&heapsFlag, "heaps", false, "dump CLI metadata heap sizes")

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build a minimal demonstration CLI metadata root and emit its bytes",
		Run:   runBuild,
	}
	buildCmd.Flags().StringVarP(&outPath, "out", "o", "", "write the emitted metadata root to this file (without it, only the byte count is printed)")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.AddCommand(versionCmd, dumpCmd, buildCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
