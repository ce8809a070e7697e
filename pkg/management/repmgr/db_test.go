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

package repmgr

import (
	"context"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("repmgr role maintenance", func() {
	It("creates the role when absent", func() {
		db, mock, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = db.Close() }()

		mock.ExpectQuery("SELECT TRUE FROM pg_roles WHERE rolname='repmgr'").
			WillReturnRows(sqlmock.NewRows([]string{"bool"}))
		mock.ExpectExec("CREATE ROLE repmgr WITH LOGIN SUPERUSER REPLICATION PASSWORD 'pw'").
			WillReturnResult(sqlmock.NewResult(0, 0))

		Expect(EnsureRole(context.Background(), db, "pw")).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("resets the password when the role exists", func() {
		db, mock, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = db.Close() }()

		mock.ExpectQuery("SELECT TRUE FROM pg_roles WHERE rolname='repmgr'").
			WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
		mock.ExpectExec("ALTER ROLE repmgr WITH LOGIN SUPERUSER REPLICATION PASSWORD 'pw'").
			WillReturnResult(sqlmock.NewResult(0, 0))

		Expect(EnsureRole(context.Background(), db, "pw")).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("quotes passwords containing single quotes", func() {
		db, mock, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = db.Close() }()

		mock.ExpectQuery("SELECT TRUE FROM pg_roles WHERE rolname='repmgr'").
			WillReturnRows(sqlmock.NewRows([]string{"bool"}))
		mock.ExpectExec("CREATE ROLE repmgr WITH LOGIN SUPERUSER REPLICATION PASSWORD 'p''w'").
			WillReturnResult(sqlmock.NewResult(0, 0))

		Expect(EnsureRole(context.Background(), db, "p'w")).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})

var _ = Describe("repmgr database maintenance", func() {
	It("creates the database when absent", func() {
		db, mock, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = db.Close() }()

		mock.ExpectQuery("SELECT TRUE FROM pg_database WHERE datname='repmgr'").
			WillReturnRows(sqlmock.NewRows([]string{"bool"}))
		mock.ExpectExec("CREATE DATABASE repmgr OWNER repmgr").
			WillReturnResult(sqlmock.NewResult(0, 0))

		Expect(EnsureDatabase(context.Background(), db)).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("repairs ownership when the database exists", func() {
		db, mock, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = db.Close() }()

		mock.ExpectQuery("SELECT TRUE FROM pg_database WHERE datname='repmgr'").
			WillReturnRows(sqlmock.NewRows([]string{"bool"}).AddRow(true))
		mock.ExpectExec("ALTER DATABASE repmgr OWNER TO repmgr").
			WillReturnResult(sqlmock.NewResult(0, 0))

		Expect(EnsureDatabase(context.Background(), db)).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})
