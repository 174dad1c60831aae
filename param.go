package dcsim

// param.go holds the run-time parameter overlay.  An ExpCfg is a list of ExpParameters,
// each naming a kind of object (Switch, Host, VM), the attributes an object has to
// match to receive the parameter, the parameter, and its value.  Parameters are applied
// most general first, so a named assignment wins over a wildcard one.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// AttrbStruct holds the name of an attribute and a value for it
type AttrbStruct struct {
	AttrbName  string `json:"attrbname" yaml:"attrbname"`
	AttrbValue string `json:"attrbvalue" yaml:"attrbvalue"`
}

// A valueStruct type holds the different types a value might have,
// typically only one of these is used, and which one is known by context
type valueStruct struct {
	intValue    int
	floatValue  float64
	stringValue string
	boolValue   bool
}

// paramObj is satisfied by every object an ExpParameter can configure
type paramObj interface {
	matchParam(attrbName, attrbValue string) bool
	setParam(param string, value valueStruct)
	paramObjName() string
}

// ExpParamObjs, ExpAttributes, and ExpParams describe the kinds of objects an ExpCfg
// configures, the attributes tested to select them, and the parameters each kind accepts
var ExpParamObjs []string = []string{"Switch", "Host", "VM"}

var ExpAttributes map[string][]string = map[string][]string{
	"Switch": {"name", "level", "*"},
	"Host":   {"name", "*"},
	"VM":     {"name", "host", "*"},
}

var ExpParams map[string][]string = map[string][]string{
	"Switch": {"latency", "upLatency", "downLatency", "upBandwidth", "downBandwidth", "ports", "trace"},
	"Host":   {"bandwidth", "trace"},
	"VM":     {"interval", "migrating", "trace"},
}

// ValidateAttribute checks that the attribute named is one that associates with the parameter object type named
func ValidateAttribute(paramObj, attrbName string) bool {
	return slices.Contains(ExpAttributes[paramObj], attrbName)
}

// ValidateParameter returns an error if the paramObj, attributes, and param values don't
// make sense taken together within an ExpParameter.
func ValidateParameter(paramObj string, attrbs []AttrbStruct, param string) error {
	if !slices.Contains(ExpParamObjs, paramObj) {
		return fmt.Errorf("parameter paramObj %s is not recognized", paramObj)
	}
	if len(attrbs) == 0 {
		return fmt.Errorf("parameter %s for paramObj %s has no attributes", param, paramObj)
	}

	for _, attrb := range attrbs {
		if !ValidateAttribute(paramObj, attrb.AttrbName) {
			return fmt.Errorf("parameter attribute %s is not recognized for paramObj %s", attrb.AttrbName, paramObj)
		}

		// a wildcard or a name is the only attribute in its list
		if (attrb.AttrbName == "*" || attrb.AttrbName == "name") && len(attrbs) != 1 {
			return fmt.Errorf("attribute %s for paramObj %s is included with more attributes", attrb.AttrbName, paramObj)
		}
	}

	if !slices.Contains(ExpParams[paramObj], param) {
		return fmt.Errorf("parameter %s is not recognized for paramObj %s", param, paramObj)
	}
	return nil
}

// CompareAttrbs returns -1 if the first argument is strictly more general than the second,
// returns 1 if the second argument is strictly more general than the first, and 0 otherwise
func CompareAttrbs(attrbs1, attrbs2 []AttrbStruct) int {
	if len(attrbs1) < len(attrbs2) && attrbNamesWithin(attrbs1, attrbs2) {
		return -1
	}
	if len(attrbs2) < len(attrbs1) && attrbNamesWithin(attrbs2, attrbs1) {
		return 1
	}
	return 0
}

// attrbNamesWithin reports whether every attribute name of inner is an attribute name of outer
func attrbNamesWithin(inner, outer []AttrbStruct) bool {
	for _, attrb := range inner {
		found := slices.ContainsFunc(outer, func(other AttrbStruct) bool { return other.AttrbName == attrb.AttrbName })
		if !found {
			return false
		}
	}
	return true
}

// EqAttrbs determines whether the two attribute lists hold the same attributes
func EqAttrbs(attrbs1, attrbs2 []AttrbStruct) bool {
	if len(attrbs1) != len(attrbs2) {
		return false
	}
	for _, attrb := range attrbs1 {
		if !slices.Contains(attrbs2, attrb) {
			return false
		}
	}
	for _, attrb := range attrbs2 {
		if !slices.Contains(attrbs1, attrb) {
			return false
		}
	}
	return true
}

// ExpParameter describes one input to experiment configuration at run-time
type ExpParameter struct {
	// Type of thing being configured: Switch, Host, or VM
	ParamObj string `json:"paramObj" yaml:"paramObj"`

	// every attribute has to be matched by an object for the parameter to apply to it
	Attributes []AttrbStruct `json:"attributes" yaml:"attributes"`

	// e.g., "latency", "bandwidth", "interval"
	Param string `json:"param" yaml:"param"`

	// string-encoded value
	Value string `json:"value" yaml:"value"`
}

// CreateExpParameter is a constructor
func CreateExpParameter(paramObj string, attributes []AttrbStruct, param, value string) *ExpParameter {
	return &ExpParameter{ParamObj: paramObj, Attributes: attributes, Param: param, Value: value}
}

// Eq reports whether the two ExpParameters are the same
func (epp *ExpParameter) Eq(ep2 *ExpParameter) bool {
	return epp.ParamObj == ep2.ParamObj && EqAttrbs(epp.Attributes, ep2.Attributes) &&
		epp.Param == ep2.Param && epp.Value == ep2.Value
}

// wildcard and named report which of the two special attributes the parameter carries
func (epp *ExpParameter) wildcard() bool {
	return len(epp.Attributes) > 0 && epp.Attributes[0].AttrbName == "*"
}

func (epp *ExpParameter) named() bool {
	return len(epp.Attributes) > 0 && epp.Attributes[0].AttrbName == "name"
}

// ExpCfg holds all of the ExpParameters for a named experiment
type ExpCfg struct {
	Name       string         `json:"expname" yaml:"expname"`
	Parameters []ExpParameter `json:"parameters" yaml:"parameters"`
}

// CreateExpCfg is a constructor
func CreateExpCfg(name string) *ExpCfg {
	return &ExpCfg{Name: name, Parameters: make([]ExpParameter, 0)}
}

// AddParameter validates and appends a parameter.  The attributes are given as
// name, value pairs
func (expcfg *ExpCfg) AddParameter(paramObj string, attrbs []AttrbStruct, param, value string) error {
	err := ValidateParameter(paramObj, attrbs, param)
	if err != nil {
		return err
	}
	expcfg.Parameters = append(expcfg.Parameters, *CreateExpParameter(paramObj, attrbs, param, value))
	return nil
}

// Validate checks every parameter, reporting all the problems found together
func (expcfg *ExpCfg) Validate() error {
	errs := []error{}
	for _, param := range expcfg.Parameters {
		errs = append(errs, ValidateParameter(param.ParamObj, param.Attributes, param.Param))
	}
	return ReportErrs(errs)
}

// WriteToFile stores the ExpCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (expcfg *ExpCfg) WriteToFile(filename string) error {
	return writeSerialized(filename, *expcfg)
}

// ReadExpCfg deserializes a byte slice holding a representation of an ExpCfg struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.
func ReadExpCfg(filename string, useYAML bool, dict []byte) (*ExpCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ExpCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// writeSerialized writes obj to filename as yaml or json, chosen by the file's extension
func writeSerialized(filename string, obj any) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(obj)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(obj, "", "\t")
	default:
		return fmt.Errorf("file %s needs a .yaml or .json extension", filename)
	}
	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0644)
}

// reorderExpParams puts the parameters in an order such that an earlier parameter applies
// to a broader range of objects than a later one that may apply to the same object.
// Wildcard parameters come first, named ones last, and duplicates are removed
func reorderExpParams(pL []ExpParameter) []ExpParameter {
	wc := []ExpParameter{}
	sg := []ExpParameter{}
	nm := []ExpParameter{}

	for _, param := range pL {
		switch {
		case param.wildcard():
			wc = append(wc, param)
		case param.named():
			nm = append(nm, param)
		default:
			sg = append(sg, param)
		}
	}

	sort.SliceStable(wc, func(i, j int) bool { return wc[i].Param < wc[j].Param })

	// fewer attributes are more general
	sort.SliceStable(sg, func(i, j int) bool {
		compared := CompareAttrbs(sg[i].Attributes, sg[j].Attributes)
		if compared != 0 {
			return compared == -1
		}
		return sg[i].Param < sg[j].Param
	})

	sort.SliceStable(nm, func(i, j int) bool {
		if nm[i].Attributes[0].AttrbValue != nm[j].Attributes[0].AttrbValue {
			return nm[i].Attributes[0].AttrbValue < nm[j].Attributes[0].AttrbValue
		}
		return nm[i].Param < nm[j].Param
	})

	ordered := append(wc, sg...)
	ordered = append(ordered, nm...)

	for idx := len(ordered) - 1; idx > 0; idx -= 1 {
		if ordered[idx].Eq(&ordered[idx-1]) {
			ordered = append(ordered[:idx], ordered[idx+1:]...)
		}
	}
	return ordered
}

// applyExpParameters sets the parameters of expCfg on the objects of each kind that match them
func applyExpParameters(expCfg *ExpCfg, objs map[string][]paramObj) {
	if expCfg == nil {
		return
	}
	for _, param := range reorderExpParams(expCfg.Parameters) {
		for _, testObj := range objs[param.ParamObj] {
			matched := true
			for _, attrb := range param.Attributes {
				if attrb.AttrbName == "*" {
					break
				}
				if !testObj.matchParam(attrb.AttrbName, attrb.AttrbValue) {
					matched = false
					break
				}
			}
			if matched {
				testObj.setParam(param.Param, stringToValueStruct(param.Value))
			}
		}
	}
}

// stringToValueStruct takes a string and determines whether it is an integer,
// floating point, boolean, or a string
func stringToValueStruct(v string) valueStruct {
	vs := valueStruct{}

	ivalue, ierr := strconv.Atoi(v)
	if ierr == nil {
		vs.intValue = ivalue
		vs.floatValue = float64(ivalue)
		return vs
	}

	fvalue, ferr := strconv.ParseFloat(v, 64)
	if ferr == nil {
		vs.floatValue = fvalue
		return vs
	}

	if v == "true" || v == "True" {
		vs.boolValue = true
		return vs
	}

	vs.stringValue = v
	return vs
}
