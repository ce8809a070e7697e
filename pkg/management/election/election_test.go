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

package election

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("StaticResolver", func() {
	It("returns the configured role", func() {
		role, err := StaticResolver{Role: RolePrimary}.Resolve(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(role).To(Equal(RolePrimary))
	})

	It("rejects unknown roles", func() {
		_, err := StaticResolver{Role: "king"}.Resolve(context.Background())
		Expect(err).To(HaveOccurred())
	})

	It("reports no primary when unset", func() {
		_, err := StaticResolver{Role: RoleStandby}.PrimaryHostname(context.Background())
		Expect(err).To(MatchError(ErrNoPrimary))
	})
})

var _ = Describe("OrdinalResolver", func() {
	It("elects ordinal zero as primary", func() {
		role, err := OrdinalResolver{PodName: "postgresql-0", Application: "postgresql"}.
			Resolve(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(role).To(Equal(RolePrimary))
	})

	It("makes higher ordinals standbys", func() {
		role, err := OrdinalResolver{PodName: "postgresql-2", Application: "postgresql"}.
			Resolve(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(role).To(Equal(RoleStandby))
	})

	It("points standbys at the ordinal zero pod service", func() {
		host, err := OrdinalResolver{PodName: "postgresql-2", Application: "postgresql"}.
			PrimaryHostname(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(host).To(Equal("postgresql-postgresql-0"))
	})

	It("rejects pod names without an ordinal", func() {
		_, err := OrdinalResolver{PodName: "postgresql", Application: "postgresql"}.
			Resolve(context.Background())
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Pod name parsing", func() {
	It("extracts multi-digit ordinals", func() {
		ordinal, err := PodOrdinal("my-app-name-12")
		Expect(err).ToNot(HaveOccurred())
		Expect(ordinal).To(Equal(12))
	})
})
