package prep

import (
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/stateprep/pkg/state"
)

// sshKeyTypes are the key algorithms the runner accepts for "enc".
var sshKeyTypes = map[string]bool{
	"ecdsa":        true,
	ssh.KeyAlgoRSA: true,
	"ssh-dss":      true,
}

// sshKey lowers authorized keys and known hosts.
func (h *sysHandler) sshKey(req Request) ([]state.Record, error) {
	idParam, kind := "authname", "ssh_auth"
	fields := map[string]string{
		"username": "user",
		"filename": "config",
	}
	knownHost := req.Module == ModuleSSHKnownHost
	if knownHost {
		idParam, kind = "hostname", "ssh_known_hosts"
		fields["fingerprint"] = "fingerprint"
	}

	records, err := named(req, kind, ConditionPresent, idParam, fields)
	if err != nil {
		return nil, err
	}
	attrs := records[0].Attributes

	line, ok, err := req.params().str("key")
	if err != nil {
		return nil, err
	}
	if ok {
		pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, state.NewStepError(state.CodeMalformedStep, "invalid ssh key: %v", err)
		}
		attrs["key"] = base64.StdEncoding.EncodeToString(pub.Marshal())
		if algo := keyAlgorithm(pub.Type()); sshKeyTypes[algo] {
			attrs["enc"] = algo
		}
		if comment != "" && !knownHost {
			attrs["comment"] = comment
		}
		if _, set := attrs["fingerprint"]; knownHost && !set {
			attrs["fingerprint"] = strings.TrimPrefix(ssh.FingerprintSHA256(pub), "SHA256:")
			attrs["fingerprint_hash_type"] = "sha256"
		}
	}

	if v, ok := req.params().get("encrypt_algorithm"); ok {
		if algo, _ := scalarString(v); sshKeyTypes[algo] {
			attrs["enc"] = algo
		}
	}
	return records, nil
}

// keyAlgorithm maps a wire key type to the runner's "enc" name.
func keyAlgorithm(keyType string) string {
	switch keyType {
	case ssh.KeyAlgoECDSA256, ssh.KeyAlgoECDSA384, ssh.KeyAlgoECDSA521:
		return "ecdsa"
	default:
		return keyType
	}
}
