package prep

import "sort"

// Family groups modules that share a handler and an allow-list of subtypes.
type Family string

const (
	FamilyPackage    Family = "package"
	FamilyRepository Family = "repository"
	FamilyFile       Family = "file"
	FamilySCM        Family = "scm"
	FamilyService    Family = "service"
	FamilySys        Family = "sys"
)

// allowedKinds is the per-family subtype allow-list.
var allowedKinds = map[Family][]string{
	FamilyPackage:    {"pkg", "gem", "npm", "pecl", "pip", "zypper"},
	FamilyRepository: {"apt", "yum", "gem", "zypper"},
	FamilyFile:       {"file", "directory", "symlink"},
	FamilySCM:        {"git", "svn", "hg"},
	FamilyService:    {"supervisord", "sysvinit", "upstart"},
	FamilySys: {
		"cmd", "cron", "group", "host", "hosts", "mount", "ntp",
		"selinux", "user", "ssh_auth", "ssh_known_hosts",
	},
}

// KindAllowed reports whether kind is accepted by the family.
func KindAllowed(family Family, kind string) bool {
	for _, k := range allowedKinds[family] {
		if k == kind {
			return true
		}
	}
	return false
}

// Module is the closed set of module kinds the compiler understands.
type Module int

const (
	ModuleUnknown Module = iota
	ModulePackageAptPackage
	ModulePackageYumPackage
	ModulePackageZypperPackage
	ModulePackageGemPackage
	ModulePackageNpmPackage
	ModulePackagePeclPackage
	ModulePackagePipPackage
	ModulePackageAptRepo
	ModulePackageYumRepo
	ModulePackageZypperRepo
	ModulePackageGemSource
	ModulePathFile
	ModulePathDir
	ModulePathSymlink
	ModuleSCMGit
	ModuleSCMSvn
	ModuleSCMHg
	ModuleServiceSupervisord
	ModuleServiceSysvinit
	ModuleServiceUpstart
	ModuleSysCmd
	ModuleSysScript
	ModuleSysCron
	ModuleSysUser
	ModuleSysGroup
	ModuleSysHostname
	ModuleSysHosts
	ModuleSysMount
	ModuleSysNTP
	ModuleSysSELinux
	ModuleSSHAuth
	ModuleSSHKnownHost
	moduleCount
)

// moduleInfo binds a module to its input name, handler family and subtype.
type moduleInfo struct {
	name   string
	family Family
	kind   string
}

var modules = [moduleCount]moduleInfo{
	ModuleUnknown:              {},
	ModulePackageAptPackage:    {"package.apt.package", FamilyPackage, "pkg"},
	ModulePackageYumPackage:    {"package.yum.package", FamilyPackage, "pkg"},
	ModulePackageZypperPackage: {"package.zypper.package", FamilyPackage, "zypper"},
	ModulePackageGemPackage:    {"package.gem.package", FamilyPackage, "gem"},
	ModulePackageNpmPackage:    {"package.npm.package", FamilyPackage, "npm"},
	ModulePackagePeclPackage:   {"package.pecl.package", FamilyPackage, "pecl"},
	ModulePackagePipPackage:    {"package.pip.package", FamilyPackage, "pip"},
	ModulePackageAptRepo:       {"package.apt.repo", FamilyRepository, "apt"},
	ModulePackageYumRepo:       {"package.yum.repo", FamilyRepository, "yum"},
	ModulePackageZypperRepo:    {"package.zypper.repo", FamilyRepository, "zypper"},
	ModulePackageGemSource:     {"package.gem.source", FamilyRepository, "gem"},
	ModulePathFile:             {"path.file", FamilyFile, "file"},
	ModulePathDir:              {"path.dir", FamilyFile, "directory"},
	ModulePathSymlink:          {"path.symlink", FamilyFile, "symlink"},
	ModuleSCMGit:               {"scm.git", FamilySCM, "git"},
	ModuleSCMSvn:               {"scm.svn", FamilySCM, "svn"},
	ModuleSCMHg:                {"scm.hg", FamilySCM, "hg"},
	ModuleServiceSupervisord:   {"service.supervisord", FamilyService, "supervisord"},
	ModuleServiceSysvinit:      {"service.sysvinit", FamilyService, "sysvinit"},
	ModuleServiceUpstart:       {"service.upstart", FamilyService, "upstart"},
	ModuleSysCmd:               {"sys.cmd", FamilySys, "cmd"},
	ModuleSysScript:            {"sys.script", FamilySys, "cmd"},
	ModuleSysCron:              {"sys.cron", FamilySys, "cron"},
	ModuleSysUser:              {"sys.user", FamilySys, "user"},
	ModuleSysGroup:             {"sys.group", FamilySys, "group"},
	ModuleSysHostname:          {"sys.hostname", FamilySys, "host"},
	ModuleSysHosts:             {"sys.hosts", FamilySys, "hosts"},
	ModuleSysMount:             {"sys.mount", FamilySys, "mount"},
	ModuleSysNTP:               {"sys.ntp", FamilySys, "ntp"},
	ModuleSysSELinux:           {"sys.selinux", FamilySys, "selinux"},
	ModuleSSHAuth:              {"system.ssh.auth", FamilySys, "ssh_auth"},
	ModuleSSHKnownHost:         {"system.ssh.known.host", FamilySys, "ssh_known_hosts"},
}

var modulesByName = func() map[string]Module {
	m := make(map[string]Module, moduleCount)
	for i := ModuleUnknown + 1; i < moduleCount; i++ {
		m[modules[i].name] = i
	}
	return m
}()

// ParseModule maps an input module string to its Module.
func ParseModule(name string) (Module, bool) {
	m, ok := modulesByName[name]
	return m, ok
}

// String returns the input name of the module.
func (m Module) String() string {
	if m <= ModuleUnknown || m >= moduleCount {
		return "unknown"
	}
	return modules[m].name
}

// Family returns the handler family of the module.
func (m Module) Family() Family {
	if m <= ModuleUnknown || m >= moduleCount {
		return ""
	}
	return modules[m].family
}

// Kind returns the family subtype of the module.
func (m Module) Kind() string {
	if m <= ModuleUnknown || m >= moduleCount {
		return ""
	}
	return modules[m].kind
}

// Modules returns every supported module name, sorted.
func Modules() []string {
	names := make([]string, 0, moduleCount-1)
	for i := ModuleUnknown + 1; i < moduleCount; i++ {
		names = append(names, modules[i].name)
	}
	sort.Strings(names)
	return names
}
