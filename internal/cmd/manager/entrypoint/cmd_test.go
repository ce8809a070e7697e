/*
Copyright The PostgreSQL K8s Charm Contributors

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

package entrypoint

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stub42/charm-k8s-postgresql/pkg/management/bootstrap"
	"github.com/stub42/charm-k8s-postgresql/pkg/management/election"
)

var _ = Describe("Role resolver selection", func() {
	settings := bootstrap.Settings{
		PodName:     "postgresql-1",
		Application: "postgresql",
		Namespace:   "models",
	}

	It("builds a static resolver from flags", func() {
		resolver, err := buildResolver(settings, "static", "primary", "pg-main-0")
		Expect(err).ToNot(HaveOccurred())

		role, err := resolver.Resolve(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(role).To(Equal(election.RolePrimary))

		primary, err := resolver.PrimaryHostname(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(primary).To(Equal("pg-main-0"))
	})

	It("builds an ordinal resolver from the pod name", func() {
		resolver, err := buildResolver(settings, "ordinal", "", "")
		Expect(err).ToNot(HaveOccurred())

		role, err := resolver.Resolve(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(role).To(Equal(election.RoleStandby))
	})

	It("rejects unknown resolver names", func() {
		_, err := buildResolver(settings, "coin-toss", "", "")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("coin-toss"))
	})
})
