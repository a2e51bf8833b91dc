// Package policy runs optional Starlark scripts that may define two hooks:
// classify(name, version, channel) and bootstrap_order(kind). The reconciler
// consults only bootstrap_order, to reorder a plan's adds; classify can be
// called through Script.Classify, but the reconciler does not call it. When a
// hook is absent, the caller falls back to its built-in rules.
package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/itchyny/gojq"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"golang.org/x/net/html"
)

// Script is a loaded, ready-to-call policy script.
type Script struct {
	Name    string
	thread  *starlark.Thread
	globals starlark.StringDict
}

// Load parses and executes a Starlark policy script, returning a handle to
// call whichever of classify/bootstrap_order it defines. printFunc receives
// print() output from the script; if nil, output goes to slog at info level.
func Load(name, source string, printFunc func(string)) (*Script, error) {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			if printFunc != nil {
				printFunc(msg)
			} else {
				slog.Info(msg, "policy", name)
			}
		},
	}

	builtins := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starlarkstruct.FromStringDict(starlark.String("json"), jsonBuiltins()),
		"jq":     starlarkstruct.FromStringDict(starlark.String("jq"), jqBuiltins()),
		"html":   starlarkstruct.FromStringDict(starlark.String("html"), htmlBuiltins()),
		"regex":  starlarkstruct.FromStringDict(starlark.String("regex"), regexBuiltins()),
	}

	globals, err := starlark.ExecFile(thread, name+".star", source, builtins)
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, fmt.Errorf("loading policy %s:\n%s", name, evalErr.Backtrace())
		}
		return nil, fmt.Errorf("loading policy %s: %w", name, err)
	}

	return &Script{Name: name, thread: thread, globals: globals}, nil
}

func (s *Script) callable(name string) (starlark.Callable, bool) {
	v, ok := s.globals[name]
	if !ok {
		return nil, false
	}
	c, ok := v.(starlark.Callable)
	return c, ok
}

// HasClassify reports whether the script defines classify(name, version, channel).
func (s *Script) HasClassify() bool {
	_, ok := s.callable("classify")
	return ok
}

// Classify calls classify(name, version, channel), expecting it to return
// "native" or "pypi". Any other return value is an error.
func (s *Script) Classify(name, version, channel string) (string, error) {
	fn, ok := s.callable("classify")
	if !ok {
		return "", fmt.Errorf("policy %s does not define classify", s.Name)
	}

	result, err := starlark.Call(s.thread, fn, starlark.Tuple{
		starlark.String(name), starlark.String(version), starlark.String(channel),
	}, nil)
	if err != nil {
		return "", mungeEvalError(s.Name, err)
	}

	str, ok := result.(starlark.String)
	if !ok {
		return "", fmt.Errorf("policy %s: classify must return a string, got %s", s.Name, result.Type())
	}
	kind := str.GoString()
	if kind != "native" && kind != "pypi" {
		return "", fmt.Errorf("policy %s: classify returned %q, want \"native\" or \"pypi\"", s.Name, kind)
	}
	return kind, nil
}

// HasBootstrapOrder reports whether the script defines bootstrap_order(kind).
func (s *Script) HasBootstrapOrder() bool {
	_, ok := s.callable("bootstrap_order")
	return ok
}

// BootstrapOrder calls bootstrap_order(kind), where kind is "native" or
// "language", expecting a list of package names in priority order.
func (s *Script) BootstrapOrder(kind string) ([]string, error) {
	fn, ok := s.callable("bootstrap_order")
	if !ok {
		return nil, fmt.Errorf("policy %s does not define bootstrap_order", s.Name)
	}

	result, err := starlark.Call(s.thread, fn, starlark.Tuple{starlark.String(kind)}, nil)
	if err != nil {
		return nil, mungeEvalError(s.Name, err)
	}

	list, ok := result.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("policy %s: bootstrap_order must return a list, got %s", s.Name, result.Type())
	}

	names := make([]string, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		str, ok := list.Index(i).(starlark.String)
		if !ok {
			return nil, fmt.Errorf("policy %s: bootstrap_order list must contain only strings", s.Name)
		}
		names = append(names, str.GoString())
	}
	return names, nil
}

func mungeEvalError(name string, err error) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return fmt.Errorf("policy %s failed:\n%s", name, evalErr.Backtrace())
	}
	return fmt.Errorf("policy %s failed: %w", name, err)
}

// FilterJQ runs a jq query directly against a JSON document, independent of
// any Starlark script, and returns every value the query yields.
func FilterJQ(query string, doc []byte) ([]any, error) {
	var data any
	if err := json.Unmarshal(doc, &data); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}

	q, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parsing jq query: %w", err)
	}

	iter := q.Run(data)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

func jsonBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"decode": NewStrictBuiltin(CommandDef{
			Name: "json.decode",
			Desc: "Decodes a JSON string into Starlark values.",
			Params: []ParamDef{
				{Name: "data", Type: "string", Desc: "The JSON string to decode"},
			},
		}, func(kwargs map[string]starlark.Value) (starlark.Value, error) {
			var data any
			if err := json.Unmarshal([]byte(asString(kwargs["data"])), &data); err != nil {
				return nil, err
			}
			return toStarlark(data), nil
		}),
		"encode": NewStrictBuiltin(CommandDef{
			Name: "json.encode",
			Desc: "Encodes a Starlark value into a JSON string.",
			Params: []ParamDef{
				{Name: "value", Type: "any", Desc: "The value to encode"},
			},
		}, func(kwargs map[string]starlark.Value) (starlark.Value, error) {
			data, err := fromStarlark(kwargs["value"])
			if err != nil {
				return nil, err
			}
			b, err := json.MarshalIndent(data, "", "  ")
			if err != nil {
				return nil, err
			}
			return starlark.String(string(b)), nil
		}),
	}
}

func jqBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"query": NewStrictBuiltin(CommandDef{
			Name: "jq.query",
			Desc: "Executes a JQ query on a value.",
			Params: []ParamDef{
				{Name: "query", Type: "string", Desc: "The JQ filter string"},
				{Name: "value", Type: "any", Desc: "The value to query"},
			},
		}, func(kwargs map[string]starlark.Value) (starlark.Value, error) {
			data, err := fromStarlark(kwargs["value"])
			if err != nil {
				return nil, err
			}

			q, err := gojq.Parse(asString(kwargs["query"]))
			if err != nil {
				return nil, err
			}

			iter := q.Run(data)
			var results []starlark.Value
			for {
				res, ok := iter.Next()
				if !ok {
					break
				}
				if err, ok := res.(error); ok {
					return nil, err
				}
				results = append(results, toStarlark(res))
			}

			if len(results) == 1 {
				return results[0], nil
			}
			return starlark.NewList(results), nil
		}),
	}
}

func htmlBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"parse": NewStrictBuiltin(CommandDef{
			Name: "html.parse",
			Desc: "Parses an HTML string into a queryable document.",
			Params: []ParamDef{
				{Name: "data", Type: "string", Desc: "The HTML string to parse"},
			},
		}, func(kwargs map[string]starlark.Value) (starlark.Value, error) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(asString(kwargs["data"])))
			if err != nil {
				return nil, err
			}
			return &Selection{sel: doc.Selection}, nil
		}),
		"to_json": NewStrictBuiltin(CommandDef{
			Name: "html.to_json",
			Desc: "Converts an HTML string into a nested map structure.",
			Params: []ParamDef{
				{Name: "data", Type: "string", Desc: "The HTML string to convert"},
			},
		}, func(kwargs map[string]starlark.Value) (starlark.Value, error) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(asString(kwargs["data"])))
			if err != nil {
				return nil, err
			}
			if doc.Selection.Length() == 0 {
				return starlark.None, nil
			}
			return toStarlark(nodeToMap(doc.Selection.Get(0))), nil
		}),
	}
}

// regexBuiltins exposes CompileAnchored to policy scripts that need to
// match package names or channels against a pattern, e.g. to classify a
// vendor's private channel as language-layer.
func regexBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"match": NewStrictBuiltin(CommandDef{
			Name: "regex.match",
			Desc: "Reports whether value fully matches the anchored pattern.",
			Params: []ParamDef{
				{Name: "pattern", Type: "string", Desc: "The regex pattern, anchored with ^...$ if not already"},
				{Name: "value", Type: "string", Desc: "The string to test"},
			},
		}, func(kwargs map[string]starlark.Value) (starlark.Value, error) {
			re, err := CompileAnchored(asString(kwargs["pattern"]))
			if err != nil {
				return nil, err
			}
			return starlark.Bool(re.MatchString(asString(kwargs["value"]))), nil
		}),
	}
}

func nodeToMap(n *html.Node) any {
	if n == nil {
		return nil
	}

	if n.Type == html.TextNode {
		txt := strings.TrimSpace(n.Data)
		if txt == "" {
			return nil
		}
		return txt
	}

	if n.Type != html.ElementNode && n.Type != html.DocumentNode {
		return nil
	}

	m := make(map[string]any)
	if n.Type == html.ElementNode {
		m["tag"] = n.Data
		attrs := make(map[string]string)
		for _, a := range n.Attr {
			attrs[a.Key] = a.Val
		}
		m["attr"] = attrs
	} else {
		m["tag"] = "#document"
	}

	var children []any
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if child := nodeToMap(c); child != nil {
			children = append(children, child)
		}
	}
	m["children"] = children

	var sb strings.Builder
	var flattenText func(*html.Node)
	flattenText = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			flattenText(c)
		}
	}
	flattenText(n)
	m["text"] = strings.TrimSpace(sb.String())

	return m
}

// Selection wraps goquery.Selection for Starlark scripts.
type Selection struct {
	sel *goquery.Selection
}

func (s *Selection) String() string        { return "html.selection" }
func (s *Selection) Type() string          { return "html.selection" }
func (s *Selection) Freeze()               {}
func (s *Selection) Truth() starlark.Bool  { return s.sel.Length() > 0 }
func (s *Selection) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", s.Type()) }

func (s *Selection) Attr(name string) (starlark.Value, error) {
	switch name {
	case "text":
		return starlark.NewBuiltin("text", func(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
			return starlark.String(s.sel.Text()), nil
		}), nil
	case "attr":
		return starlark.NewBuiltin("attr", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackArgs("attr", args, kwargs, "name", &name); err != nil {
				return nil, err
			}
			val, _ := s.sel.Attr(name)
			return starlark.String(val), nil
		}), nil
	case "find":
		return starlark.NewBuiltin("find", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var selector string
			if err := starlark.UnpackArgs("find", args, kwargs, "selector", &selector); err != nil {
				return nil, err
			}
			return &Selection{sel: s.sel.Find(selector)}, nil
		}), nil
	case "each":
		return starlark.NewBuiltin("each", func(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
			var list []starlark.Value
			s.sel.Each(func(_ int, gs *goquery.Selection) {
				list = append(list, &Selection{sel: gs})
			})
			return starlark.NewList(list), nil
		}), nil
	}
	return nil, nil
}

func (s *Selection) AttrNames() []string {
	return []string{"text", "attr", "find", "each"}
}

// fromStarlark converts a Starlark value to a plain Go value.
func fromStarlark(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Int:
		i, _ := x.Int64()
		return i, nil
	case starlark.Float:
		return float64(x), nil
	case *starlark.List:
		list := make([]any, 0, x.Len())
		for i := 0; i < x.Len(); i++ {
			val, err := fromStarlark(x.Index(i))
			if err != nil {
				return nil, err
			}
			list = append(list, val)
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, key := range x.Keys() {
			k, ok := key.(starlark.String)
			if !ok {
				continue
			}
			val, _, _ := x.Get(key)
			v, err := fromStarlark(val)
			if err != nil {
				return nil, err
			}
			dict[string(k)] = v
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to go", v)
	}
}

func toStarlark(v any) starlark.Value {
	switch x := v.(type) {
	case bool:
		return starlark.Bool(x)
	case string:
		return starlark.String(x)
	case float64:
		return starlark.Float(x)
	case int64:
		return starlark.MakeInt64(x)
	case int:
		return starlark.MakeInt(x)
	case []any:
		list := make([]starlark.Value, 0, len(x))
		for _, item := range x {
			list = append(list, toStarlark(item))
		}
		return starlark.NewList(list)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(x))
		for _, k := range keys {
			dict.SetKey(starlark.String(k), toStarlark(x[k]))
		}
		return dict
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(x))
		for _, k := range keys {
			dict.SetKey(starlark.String(k), starlark.String(x[k]))
		}
		return dict
	default:
		return starlark.None
	}
}

func asString(v starlark.Value) string {
	if v == nil || v == starlark.None {
		return ""
	}
	if s, ok := v.(starlark.String); ok {
		return s.GoString()
	}
	return fmt.Sprintf("%v", v)
}
