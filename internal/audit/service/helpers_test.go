package service

import "github.com/smallbiznis/registrar/pkg/db/pagination"

func paginationOf(token string, size int) pagination.Pagination {
	return pagination.Pagination{PageToken: token, PageSize: size}
}
