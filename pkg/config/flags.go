package config

import (
	_ "embed"
	"flag"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// defaultConfig documents every flag kindly defines, grouped by component, along with its default value.
//
//go:embed default_config.json
var defaultConfig []byte

// skippedConfigFlags is the list of command line flags that are not expected inside the config file.
var skippedConfigFlags = []string{"print_version", "config_file"}

// parseConfig decodes a JSON config document.
func parseConfig(configBytes []byte) (*structpb.Struct, error) {
	conf := new(structpb.Struct)
	if err := protojson.Unmarshal(configBytes, conf); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return conf, nil
}

// configValueToString converts a config leaf into the string form accepted by flag.Set.
func configValueToString(v *structpb.Value) (string, error) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue, nil
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue), nil
	case *structpb.Value_NumberValue:
		// Integers stay integers, e.g. 10 rather than 1e+01.
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64), nil
	case *structpb.Value_NullValue:
		return "", fmt.Errorf("null values are not supported")
	default:
		return "", fmt.Errorf("unsupported value kind %T", kind)
	}
}

// collectFlags collects every leaf of `conf` into `flags`. Nested objects are walked; their keys only group flags.
func collectFlags(flags map[ /*flagName*/ string] /*flagValue*/ string, path string, conf *structpb.Struct) error {
	// Sort the keys so errors are deterministic.
	keys := make([]string, 0, len(conf.GetFields()))
	for key := range conf.GetFields() {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		value := conf.GetFields()[key]
		fullPath := key
		if path != "" {
			fullPath = path + "." + key
		}
		switch kind := value.GetKind().(type) {
		case *structpb.Value_StructValue:
			if err := collectFlags(flags, fullPath, kind.StructValue); err != nil {
				return err
			}
			continue
		case *structpb.Value_ListValue:
			return fmt.Errorf("lists are not supported: %s", fullPath)
		}
		stringValue, err := configValueToString(value)
		if err != nil {
			return fmt.Errorf("failed to convert %s: %w", fullPath, err)
		}
		if _, alreadyExists := flags[key]; alreadyExists {
			return fmt.Errorf("flag '%s' has multiple entries in config: '%s'", key, fullPath)
		}
		flags[key] = stringValue
	}
	return nil
}

// setConfigFlags sets all the flags found in the given JSON config to the global flag variables.
func setConfigFlags(configBytes []byte) error {
	conf, err := parseConfig(configBytes)
	if err != nil {
		return err
	}
	configFlags := make(map[ /*flagName*/ string] /*flagValue*/ string)
	if err := collectFlags(configFlags, "", conf); err != nil {
		return fmt.Errorf("failed to collect flags: %w", err)
	}
	for flagName, flagValue := range configFlags {
		if setErr := flag.Set(flagName, flagValue); setErr != nil {
			return fmt.Errorf("failed to set flag %s: %w", flagName, setErr)
		}
	}
	return nil
}

// getDefinedFlags returns the set of flags documented inside the default config.
func getDefinedFlags() (map[ /*flagName*/ string]struct{}, error) {
	conf, err := parseConfig(defaultConfig)
	if err != nil {
		return nil, err
	}
	configFlags := make(map[string]string)
	if err := collectFlags(configFlags, "", conf); err != nil {
		return nil, err
	}
	flagSet := make(map[string]struct{}, len(configFlags))
	for flagName := range configFlags {
		flagSet[flagName] = struct{}{}
	}
	return flagSet, nil
}

// CollectUnregisteredFlags collects all flags that haven't been documented in the default config.
// An error exists in the results corresponding to each unregistered flag.
func CollectUnregisteredFlags() []error {
	definedFlags, err := getDefinedFlags()
	if err != nil {
		return []error{err}
	}
	errs := make([]error, 0)
	flag.VisitAll(func(f *flag.Flag) {
		if strings.HasPrefix(f.Name, "test.") { // Skip test flags.
			return
		}
		if slices.Contains(skippedConfigFlags, f.Name) {
			return
		}
		if _, flagHasConfigEntry := definedFlags[f.Name]; !flagHasConfigEntry {
			errs = append(errs, fmt.Errorf("flag '%s' has not been defined in the default config", f.Name))
		}
	})
	return errs
}
