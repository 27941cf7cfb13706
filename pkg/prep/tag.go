package prep

import "strings"

// tagSeparator joins tag segments and prefixes every tag.
const tagSeparator = "_"

// MakeTag builds the deterministic identifier of a record.
//
// The module has its dots replaced by the separator, the step id and then the
// component id are prepended, the resource name and then the condition are
// appended, and the whole is prefixed with the separator:
//
//	MakeTag("package.pip.package", "web", "3", "pkgs", "latest")
//	// "_web_3_package_pip_package_pkgs_latest"
//
// Empty inputs are skipped. MakeTag returns "" only when every input is empty.
func MakeTag(module, componentID, stepID, name, condition string) string {
	if module == "" && componentID == "" && stepID == "" && name == "" && condition == "" {
		return ""
	}

	tag := strings.ReplaceAll(module, ".", tagSeparator)
	if stepID != "" {
		tag = stepID + tagSeparator + tag
	}
	if componentID != "" {
		tag = componentID + tagSeparator + tag
	}
	if name != "" {
		tag += tagSeparator + name
	}
	if condition != "" {
		tag += tagSeparator + condition
	}

	return tagSeparator + tag
}
