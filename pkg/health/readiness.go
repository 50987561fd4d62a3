/*
Copyright 2019 The Machine Controller Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package health

import (
	"fmt"
	"net/http"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

func ApiserverReachable(client kubernetes.Interface) healthz.Checker {
	return func(req *http.Request) error {
		_, err := client.CoreV1().Nodes().List(req.Context(), metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("unable to list nodes check: %w", err)
		}

		return nil
	}
}

// NamespaceExists reports readiness only once the managed namespace is
// present, so the operator doesn't advertise ready before its own
// bootstrap supervisor has had a chance to create it.
func NamespaceExists(client kubernetes.Interface, namespace string) healthz.Checker {
	return func(req *http.Request) error {
		_, err := client.CoreV1().Namespaces().Get(req.Context(), namespace, metav1.GetOptions{})
		if err != nil {
			return fmt.Errorf("managed namespace %q not ready: %w", namespace, err)
		}

		return nil
	}
}
