package command

import "fmt"

// Builders for the external tools the phases invoke. Each returns a typed
// argument list; the core observes the tool only by exit code and output.

// Debootstrap bootstraps the base system for suite into target.
func Debootstrap(arch, suite, target, mirror string, include []string) Command {
	args := []string{"--arch=" + arch}
	if len(include) > 0 {
		incl := ""
		for i, p := range include {
			if i > 0 {
				incl += ","
			}
			incl += p
		}
		args = append(args, "--include="+incl)
	}
	args = append(args, suite, target, mirror)
	return Command{Path: "debootstrap", Args: args}
}

// ChrootAptGet runs apt-get inside the chroot, non-interactive.
func ChrootAptGet(chrootDir string, aptArgs ...string) Command {
	args := append([]string{chrootDir, "apt-get", "-y"}, aptArgs...)
	return Command{
		Path: "chroot",
		Args: args,
		Env:  []string{"DEBIAN_FRONTEND=noninteractive"},
	}
}

// ChrootAptUpdate refreshes the package index inside the chroot.
func ChrootAptUpdate(chrootDir string) Command {
	return ChrootAptGet(chrootDir, "update")
}

// ChrootAptClean purges the apt archive cache inside the chroot.
func ChrootAptClean(chrootDir string) Command {
	return ChrootAptGet(chrootDir, "clean")
}

// Mksquashfs compresses srcDir into outFile.
func Mksquashfs(srcDir, outFile, compression string) Command {
	args := []string{srcDir, outFile, "-noappend"}
	if compression != "" {
		args = append(args, "-comp", compression)
	}
	return Command{Path: "mksquashfs", Args: args}
}

// GrubMkrescue assembles a BIOS+UEFI bootable ISO from stagingDir.
func GrubMkrescue(stagingDir, outISO, volumeID string) Command {
	return Command{
		Path: "grub-mkrescue",
		Args: []string{"-o", outISO, stagingDir, "--", "-volid", volumeID},
	}
}

// Xorriso assembles an ISO directly, for layouts grub-mkrescue cannot
// express.
func Xorriso(stagingDir, outISO, volumeID string) Command {
	return Command{
		Path: "xorriso",
		Args: []string{
			"-as", "mkisofs",
			"-iso-level", "3",
			"-volid", volumeID,
			"-o", outISO,
			stagingDir,
		},
	}
}

// Mount mounts source on target with the given filesystem type and options.
func Mount(source, target, fstype string, options []string, bind bool) Command {
	args := []string{}
	if bind {
		args = append(args, "--bind")
	}
	if fstype != "" {
		args = append(args, "-t", fstype)
	}
	if len(options) > 0 {
		opts := ""
		for i, o := range options {
			if i > 0 {
				opts += ","
			}
			opts += o
		}
		args = append(args, "-o", opts)
	}
	args = append(args, source, target)
	return Command{Path: "mount", Args: args}
}

// Umount unmounts target. Lazy and force select the escalation variants.
func Umount(target string, lazy, force bool) Command {
	args := []string{}
	if lazy {
		args = append(args, "-l")
	}
	if force {
		args = append(args, "-f")
	}
	args = append(args, target)
	return Command{Path: "umount", Args: args}
}

// Mountpoint checks whether target is currently a mountpoint (exit 0 = yes).
func Mountpoint(target string) Command {
	return Command{Path: "mountpoint", Args: []string{"-q", target}}
}

// FuserKill terminates processes holding the given mount path.
func FuserKill(target string) Command {
	return Command{Path: "fuser", Args: []string{"-km", target}}
}

// RemovePath deletes a file or directory tree. Kept as a builder so rollback
// actions run through the same runner (and therefore the same dry-run and
// audit paths) as everything else.
func RemovePath(path string, recursive bool) Command {
	if recursive {
		return Command{Path: "rm", Args: []string{"-rf", "--one-file-system", path}}
	}
	return Command{Path: "rm", Args: []string{"-f", path}}
}

// Validate rejects obviously malformed invocations before they reach a
// runner.
func (c Command) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("command has no executable path")
	}
	return nil
}
