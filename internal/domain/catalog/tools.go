package catalog

import model "github.com/okian/starkpi/internal/domain/model"

// Tool is the display metadata of a product tool.
type Tool struct {
	Icon        string
	SortOrder   int
	Description string
}

var tools = map[string]Tool{
	"merge":        {Icon: "merge", SortOrder: 1, Description: "Combine multiple PDF files into one"},
	"nup":          {Icon: "grid", SortOrder: 2, Description: "Multiple pages per sheet layout"},
	"compressor":   {Icon: "compress", SortOrder: 3, Description: "Reduce PDF file size"},
	"split":        {Icon: "split", SortOrder: 4, Description: "Split PDF into separate pages"},
	"pdf_bw":       {Icon: "palette", SortOrder: 5, Description: "Convert PDF to black and white"},
	"page_remover": {Icon: "delete", SortOrder: 6, Description: "Remove specific pages from PDF"},
	"homepage":     {Icon: "home", SortOrder: 99, Description: "Main website landing page"},
}

// defaultToolSort places uncatalogued tools after the known ones but before
// the homepage.
const defaultToolSort = 50

// LookupTool returns the metadata for a tool, falling back to a generic
// entry for tools not in the catalog.
func LookupTool(name string) (Tool, bool) {
	if t, ok := tools[name]; ok {
		return t, true
	}
	return Tool{Icon: "tool", SortOrder: defaultToolSort, Description: name + " tool"}, false
}

// ToolAttributes returns the dim_tools attributes for a tool seen with the
// given category. An empty category is stored as empty.
func ToolAttributes(name, category string) model.Attributes {
	t, _ := LookupTool(name)
	return model.Attributes{
		"tool_category":     category,
		"tool_display_name": DisplayName(name),
		"tool_description":  t.Description,
		"icon_name":         t.Icon,
		"sort_order":        int64(t.SortOrder),
		"is_active":         true,
	}
}
