package workspace

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	tpl "github.com/kubermatic/kube-workspace-operator/pkg/template"
)

const setupScriptTemplate = `apt-get update && ` +
	`apt-get install -y openssh-server && ` +
	`adduser --gecos "" --no-create-home --disabled-password {{.Username}} && ` +
	`mkdir -p /home/{{.Username}}/.ssh && ` +
	`echo '{{.Key}}' > /home/{{.Username}}/.ssh/authorized_keys && ` +
	`chown {{.Username}}:{{.Username}} /home/{{.Username}} && ` +
	`chown {{.Username}}:{{.Username}} /home/{{.Username}}/.ssh && ` +
	`chmod 755 /home/{{.Username}} && ` +
	`chmod 755 /home/{{.Username}}/.ssh && ` +
	`chmod 644 /home/{{.Username}}/.ssh/authorized_keys && ` +
	`service ssh start && ` +
	`sleep infinity`

const sshPortName = "ssh"

type scriptData struct {
	Username string
	Key      string
}

// renderPod clones podTemplate and deterministically mutates container 0
// (creating it if absent) into the workspace container: sshd bootstrap
// command, home volume mount, the "ssh" container port, and a TCP
// readiness probe, then attaches the home-volume-backed "home" volume.
func renderPod(podTemplate corev1.PodSpec, username, sshPublicKey, homeVolumeName string) (*corev1.Pod, error) {
	spec := *podTemplate.DeepCopy()

	if len(spec.Containers) == 0 {
		spec.Containers = []corev1.Container{{}}
	}

	script, err := tpl.Render("workspace-setup", setupScriptTemplate, scriptData{Username: username, Key: sshPublicKey})
	if err != nil {
		return nil, err
	}

	c := &spec.Containers[0]
	c.Name = "workspace"
	if c.Image == "" {
		c.Image = "ubuntu"
	}
	c.Command = []string{"bash", "-c", script}

	c.VolumeMounts = append(c.VolumeMounts, corev1.VolumeMount{
		Name:      "home",
		MountPath: "/home/" + username,
	})

	c.Ports = append(c.Ports, corev1.ContainerPort{
		ContainerPort: 22,
		Name:          sshPortName,
	})

	c.ReadinessProbe = &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			TCPSocket: &corev1.TCPSocketAction{
				Port: intstr.FromString(sshPortName),
			},
		},
		InitialDelaySeconds: 60,
		PeriodSeconds:       30,
		TimeoutSeconds:      3,
	}

	spec.Volumes = append(spec.Volumes, corev1.Volume{
		Name: "home",
		VolumeSource: corev1.VolumeSource{
			PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
				ClaimName: homeVolumeName,
			},
		},
	})

	return &corev1.Pod{
		ObjectMeta: podObjectMeta(username),
		Spec:       spec,
		// The real apiserver defaults a freshly admitted pod's phase to
		// Pending before any kubelet has reported in; set explicitly so
		// phase.Classify sees a cold-start pod the same way regardless
		// of which clientset created it.
		Status: corev1.PodStatus{Phase: corev1.PodPending},
	}, nil
}
